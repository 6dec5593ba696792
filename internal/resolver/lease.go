package resolver

import "sync"

// leasedTab couples a tab with the admission token it was opened under.
// Close is idempotent and always hands the token back.
type leasedTab struct {
	Tab
	release func()
	once    sync.Once
	err     error
}

func (l *leasedTab) Close() error {
	l.once.Do(func() {
		l.err = l.Tab.Close()
		l.release()
	})
	return l.err
}
