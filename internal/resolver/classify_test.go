package resolver

import (
	"net/url"
	"testing"
)

func TestClassifierIsFile(t *testing.T) {
	c := NewClassifier(nil)
	cases := map[string]bool{
		"http://x.com/report.pdf":                       true,
		"http://x.com/archive.tar.gz":                   true,
		"http://x.com/page.html":                        false,
		"http://x.com/index.PHP":                        false,
		"http://x.com/":                                 false,
		"http://x.com":                                  false,
		"http://x.com/articles/some-slug":               false,
		"http://x.com/v1.2/page":                        false,
		"http://x.com/news/a.verylongslugwithoutbreaks": false,
		"http://x.com/setup.exe?download=1":             true,
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("url.Parse(%q) error = %v", raw, err)
		}
		if got := c.IsFile(u); got != want {
			t.Fatalf("IsFile(%q) = %v; want %v", raw, got, want)
		}
	}
}

func TestClassifierCustomExtensions(t *testing.T) {
	c := NewClassifier([]string{"htm", ".ASPX"})
	u, _ := url.Parse("http://x.com/default.aspx")
	if c.IsFile(u) {
		t.Fatalf("IsFile(default.aspx) = true; want false")
	}
	u, _ = url.Parse("http://x.com/page.html")
	if !c.IsFile(u) {
		t.Fatalf("IsFile(page.html) = false; want true")
	}
}
