//go:build !unix

package journal

// Advisory locking is unix-only; elsewhere a second instance is undefined.
type instanceLock struct{}

func acquireLock(string) (*instanceLock, error) { return &instanceLock{}, nil }

func (l *instanceLock) release() {}
