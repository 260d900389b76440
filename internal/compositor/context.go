package compositor

import (
	"log"
	"os"
)

// renderContext owns everything a single render acquires. release undoes the
// acquisitions in reverse order and is safe to call more than once.
type renderContext struct {
	releases []release
}

type release struct {
	name string
	fn   func() error
}

func (rc *renderContext) onRelease(name string, fn func() error) {
	rc.releases = append(rc.releases, release{name: name, fn: fn})
}

// trackFile removes path on release. A file already moved away is not an error.
func (rc *renderContext) trackFile(path string) {
	rc.onRelease(path, func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

func (rc *renderContext) release() {
	for i := len(rc.releases) - 1; i >= 0; i-- {
		r := rc.releases[i]
		if err := r.fn(); err != nil {
			log.Printf("[Compositor] Release %s: %v", r.name, err)
		}
	}
	rc.releases = nil
}
