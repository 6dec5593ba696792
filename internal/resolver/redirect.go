package resolver

import (
	"net/url"
	"strings"
	"sync"
)

const chainSeparator = " -> "

// RedirectTracker collects the distinct hosts named by Location headers
// during one link resolution, in first-seen order.
type RedirectTracker struct {
	mu    sync.Mutex
	hosts []string
	seen  map[string]struct{}
}

func NewRedirectTracker() *RedirectTracker {
	return &RedirectTracker{seen: make(map[string]struct{})}
}

// Observe records the host of the response's Location header, if any.
// Relative locations resolve against the response URL.
func (t *RedirectTracker) Observe(r Response) {
	location := strings.TrimSpace(r.Header("location"))
	if location == "" {
		return
	}
	target, err := url.Parse(location)
	if err != nil {
		return
	}
	if target.Host == "" && r.URL != "" {
		base, err := url.Parse(r.URL)
		if err != nil {
			return
		}
		target = base.ResolveReference(target)
	}
	host := strings.ToLower(target.Host)
	if host == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[host]; ok {
		return
	}
	t.seen[host] = struct{}{}
	t.hosts = append(t.hosts, host)
}

// Hosts returns a copy of the observed hosts.
func (t *RedirectTracker) Hosts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.hosts...)
}

// Chain renders "start -> hop -> end". The boundaries carry host and path;
// observed hosts equal to either boundary host are folded into it.
func (t *RedirectTracker) Chain(start, end *url.URL) string {
	first, last := hostPath(start), hostPath(end)
	startHost, endHost := strings.ToLower(start.Host), strings.ToLower(end.Host)

	chain := []string{first}
	for _, host := range t.Hosts() {
		if host == startHost || host == endHost {
			continue
		}
		chain = append(chain, host)
	}
	if last != first || len(chain) > 1 {
		chain = append(chain, last)
	}
	return strings.Join(chain, chainSeparator)
}

func hostPath(u *url.URL) string {
	return strings.ToLower(u.Host) + u.Path
}
