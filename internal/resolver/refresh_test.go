package resolver

import "testing"

func TestMetaRefreshTarget(t *testing.T) {
	cases := map[string]string{
		`<html><head><meta http-equiv="refresh" content="0; url=https://b.com/x"></head></html>`: "https://b.com/x",
		`<META HTTP-EQUIV="Refresh" CONTENT="5;URL='/next'">`:                                   "/next",
		`<meta http-equiv="refresh" content='0;url="https://c.com/"'/>`:                          "https://c.com/",
		`<meta http-equiv="refresh" content="0; https://d.com/">`:                                "https://d.com/",
		`<meta http-equiv="refresh" content="30">`:                                               "",
		`<meta name="description" content="0; url=https://e.com/">`:                              "",
		`<html><body>plain</body></html>`:                                                        "",
	}
	for doc, want := range cases {
		if got := MetaRefreshTarget(doc); got != want {
			t.Fatalf("MetaRefreshTarget(%q) = %q; want %q", doc, got, want)
		}
	}
}
