package classifier

import (
	"testing"

	"github.com/apthunt/harvester/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		bundle *models.DiagnosticBundle
		want   models.FailureCategory
	}{
		{name: "nil bundle", bundle: nil, want: models.CategoryFatal},
		{
			name:   "403 status",
			bundle: &models.DiagnosticBundle{StatusCode: 403, HTML: "<html></html>"},
			want:   models.CategoryBlocked,
		},
		{
			name:   "429 status",
			bundle: &models.DiagnosticBundle{StatusCode: 429},
			want:   models.CategoryBlocked,
		},
		{
			name:   "denied page title",
			bundle: &models.DiagnosticBundle{StatusCode: 200, PageTitle: "Access to this page has been denied", HTML: "<html>irrelevant</html>"},
			want:   models.CategoryBlocked,
		},
		{
			name:   "captcha marker in markup",
			bundle: &models.DiagnosticBundle{StatusCode: 200, HTML: "<div class='g-recaptcha'>Please solve this CAPTCHA</div>"},
			want:   models.CategoryBlocked,
		},
		{
			name:   "timeout",
			bundle: &models.DiagnosticBundle{TimedOut: true, ErrText: "navigation timeout exceeded"},
			want:   models.CategoryTransient,
		},
		{
			name:   "server error",
			bundle: &models.DiagnosticBundle{StatusCode: 503, HTML: "<html>maintenance</html>"},
			want:   models.CategoryTransient,
		},
		{
			name:   "connection reset",
			bundle: &models.DiagnosticBundle{ErrText: "read tcp: connection reset by peer"},
			want:   models.CategoryTransient,
		},
		{
			name:   "dns failure",
			bundle: &models.DiagnosticBundle{ErrText: "dial tcp: lookup example.com: no such host"},
			want:   models.CategoryTransient,
		},
		{
			name:   "clean page with empty payload",
			bundle: &models.DiagnosticBundle{StatusCode: 200, HTML: "<html><body><main>new layout</main></body></html>"},
			want:   models.CategoryStructural,
		},
		{
			name:   "unknown automation error",
			bundle: &models.DiagnosticBundle{ErrText: "protocol error: target crashed", HTML: "<html></html>"},
			want:   models.CategoryFatal,
		},
		{
			name:   "client error without markers",
			bundle: &models.DiagnosticBundle{StatusCode: 404, HTML: "<html>not found</html>"},
			want:   models.CategoryFatal,
		},
	}

	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.bundle); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

// A single attempt can show several signals at once; blocked wins over
// transient, which wins over structural.
func TestClassifyPrecedence(t *testing.T) {
	c := New(nil)

	bundle := &models.DiagnosticBundle{
		StatusCode: 429,
		TimedOut:   true,
		HTML:       "<html>please complete the captcha</html>",
	}
	if got := c.Classify(bundle); got != models.CategoryBlocked {
		t.Errorf("Classify() = %q, want %q", got, models.CategoryBlocked)
	}

	bundle = &models.DiagnosticBundle{
		StatusCode: 500,
		HTML:       "<html>half-rendered page</html>",
	}
	if got := c.Classify(bundle); got != models.CategoryTransient {
		t.Errorf("Classify() = %q, want %q", got, models.CategoryTransient)
	}
}

func TestClassifyCustomMarkers(t *testing.T) {
	c := New([]string{"unusual traffic detected"})

	bundle := &models.DiagnosticBundle{
		StatusCode: 200,
		HTML:       "<html>We noticed Unusual Traffic Detected from your network</html>",
	}
	if got := c.Classify(bundle); got != models.CategoryBlocked {
		t.Errorf("Classify() = %q, want %q", got, models.CategoryBlocked)
	}

	// Custom markers replace the defaults.
	bundle = &models.DiagnosticBundle{
		StatusCode: 200,
		HTML:       "<html>please solve the captcha</html>",
	}
	if got := c.Classify(bundle); got != models.CategoryStructural {
		t.Errorf("Classify() = %q, want %q", got, models.CategoryStructural)
	}
}
