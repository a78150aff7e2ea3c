package stream

import (
	"reflect"
	"testing"
)

func TestSelectQuality(t *testing.T) {
	tests := []struct {
		name   string
		urls   map[string]string
		want   string
		wantOK bool
	}{
		{name: "full hd preferred", urls: map[string]string{"FULL_HD1": "full", "HD1": "hd"}, want: "full", wantOK: true},
		{name: "hd fallback", urls: map[string]string{"HD1": "hd"}, want: "hd", wantOK: true},
		{name: "empty full hd skipped", urls: map[string]string{"FULL_HD1": "", "HD1": "hd"}, want: "hd", wantOK: true},
		{name: "only sd", urls: map[string]string{"SD1": "sd"}},
		{name: "nil", urls: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectQuality(tt.urls)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("SelectQuality() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCleanMediaURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`https:\/\/pull.example\/stage\/s.flv?a=1&b=2`, `https://pull.example/stage/s.flv?a=1&b=2`},
		{`https://pull.example/s.flv?a=1&amp;b=2`, `https://pull.example/s.flv?a=1&b=2`},
		{`https://pull.example/s.flv?a=1&quot;,&quot;next`, `https://pull.example/s.flv?a=1`},
		{`https://pull.example/s.flv`, `https://pull.example/s.flv`},
	}
	for _, tt := range tests {
		if got := cleanMediaURL(tt.in); got != tt.want {
			t.Errorf("cleanMediaURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScrapeCandidates(t *testing.T) {
	page := `<html>
<a href="https://pull-a.example/live/s_sd.flv">sd</a>
<script>var x = "https:\/\/pull-b.example\/live\/s_hd.flv?k=1&auth_key=abc";</script>
<a href="https://pull-c.example/live/s_or4.flv?x=1">origin</a>
<a href="https://pull-d.example/live/s_uhd.m3u8">uhd</a>
<a href="https://pull-a.example/live/s_sd.flv">duplicate</a>
</html>`

	got := ScrapeCandidates(page)
	want := []string{
		"https://pull-b.example/live/s_hd.flv?k=1&auth_key=abc",
		"https://pull-c.example/live/s_or4.flv?x=1",
		"https://pull-d.example/live/s_uhd.m3u8",
		"https://pull-a.example/live/s_sd.flv",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ScrapeCandidates() =\n%v\nwant\n%v", got, want)
	}

	best, ok := ScrapeMediaURL(page)
	if !ok || best != want[0] {
		t.Errorf("ScrapeMediaURL() = (%q, %v), want (%q, true)", best, ok, want[0])
	}
}

func TestScrapeMediaURL_None(t *testing.T) {
	if u, ok := ScrapeMediaURL(`<html>please verify you are human</html>`); ok {
		t.Errorf("ScrapeMediaURL() = %q, want none", u)
	}
}
