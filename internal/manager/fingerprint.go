package manager

import (
	"crypto/sha256"
	"io"
	"os"
	"time"
)

// fingerprint identifies one version of a definition file. A failed or
// quarantined file is retried only after its fingerprint changes.
type fingerprint struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

func fingerprintFile(path string) (fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return fingerprint{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fingerprint{}, err
	}
	fp := fingerprint{modTime: info.ModTime(), size: info.Size()}
	copy(fp.sum[:], h.Sum(nil))
	return fp, nil
}

// changed reports whether the file at path no longer matches fp. A
// stat or read failure counts as changed so the file is retried.
func (fp fingerprint) changed(path string) bool {
	current, err := fingerprintFile(path)
	if err != nil {
		return true
	}
	return current != fp
}
