package useragent

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const (
	chromeUA  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"
	edgeUA    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36 Edg/139.0.0.0"
	firefoxUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:141.0) Gecko/20100101 Firefox/141.0"
	safariUA  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.5 Safari/605.1.15"
)

func TestClassify(t *testing.T) {
	tests := map[string]Family{
		chromeUA:     Chrome,
		edgeUA:       Edge,
		firefoxUA:    Firefox,
		safariUA:     Safari,
		"curl/8.5.0": Other,
	}
	for ua, want := range tests {
		if got := Classify(ua); got != want {
			t.Errorf("Classify(%q) = %s, want %s", ua, got, want)
		}
	}
}

func TestDefaultsCoverFamilies(t *testing.T) {
	seen := map[Family]bool{}
	for _, ua := range Defaults {
		seen[Classify(ua)] = true
	}
	for _, f := range []Family{Chrome, Edge, Firefox, Safari} {
		if !seen[f] {
			t.Errorf("expected a default %s agent", f)
		}
	}
	if seen[Other] {
		t.Errorf("expected every default agent to classify")
	}
}

func TestOnly(t *testing.T) {
	p := NewPool([]string{chromeUA, firefoxUA, edgeUA, safariUA})

	chromium := p.Only(Chrome, Edge)
	if chromium.Len() != 2 {
		t.Fatalf("expected 2 chromium agents, got %v", chromium.All())
	}
	for i := 0; i < 4; i++ {
		if f := Classify(chromium.Next()); f != Chrome && f != Edge {
			t.Errorf("expected a chromium agent, got %s", f)
		}
	}

	if got := p.Only(); got != p {
		t.Errorf("expected no families to return the same pool")
	}

	custom := NewPool([]string{"Crawler/1.0"})
	if got := custom.Only(Firefox); got != custom || got.Next() != "Crawler/1.0" {
		t.Errorf("expected fallback to the full pool when nothing matches")
	}
}

func TestNextRotatesUnderContention(t *testing.T) {
	p := NewPool([]string{"X", "Y", "Z"})

	const workers, each = 50, 300
	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := map[string]int{}
			for j := 0; j < each; j++ {
				local[p.Next()]++
			}
			mu.Lock()
			for k, v := range local {
				counts[k] += v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, k := range []string{"X", "Y", "Z"} {
		if counts[k] != workers*each/3 {
			t.Errorf("expected %d picks of %s, got %d", workers*each/3, k, counts[k])
		}
	}
}

func TestRandomStaysInPool(t *testing.T) {
	p := NewPool([]string{"A", "B"})
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[p.Random()] = true
	}
	if len(seen) != 2 || !seen["A"] || !seen["B"] {
		t.Errorf("expected both agents and nothing else, got %v", seen)
	}

	empty := &Pool{}
	if empty.Next() != "" || empty.Random() != "" {
		t.Errorf("expected empty strings from an empty pool")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.txt")
	if err := os.WriteFile(path, []byte("# mobile later\n"+firefoxUA+"\n\n  "+chromeUA+"  \n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Len() != 2 || p.Next() != firefoxUA || p.Next() != chromeUA {
		t.Errorf("expected both agents in file order, got %v", p.All())
	}

	blank := filepath.Join(dir, "blank.txt")
	_ = os.WriteFile(blank, []byte("# nothing\n"), 0o600)
	if p, err := Load(blank); err != nil || p.Len() != len(Defaults) {
		t.Errorf("expected defaults for an empty file, got %v (%v)", p, err)
	}

	if _, err := Load(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}
