package tarpit

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"strings"
)

// Filename pools for archive members. Combinations look like the exports and
// backups scrapers hope to find.
var (
	memberPrefixes = []string{
		"export", "backup", "data", "records", "archive",
		"users", "catalog", "report", "inventory", "snapshot",
	}
	memberSuffixes = []string{".csv", ".json", ".txt", ".xml", ".js", ".min.js"}
)

// countingWriter tracks compressed bytes actually written downstream, which
// is what the archive budget is denominated in.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// WriteDecoyArchive streams a zip of plausible junk to w, stopping before the
// compressed output exceeds maxBytes. Member count, names and sizes are fixed
// up front from the seed, so re-fetching the same archive path yields the
// same bytes. Text members come from the model when one is loaded; otherwise
// members carry repetitive filler, which deflate shrinks to almost nothing
// anyway. Returns compressed bytes written.
func WriteDecoyArchive(w io.Writer, model *Model, seed int64, maxBytes int64) (int64, error) {
	rng := rand.New(rand.NewSource(seed))
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)

	// Everything about the archive layout is decided before the first byte
	// goes out: the member list must not depend on how compression happens
	// to land against the budget.
	nMembers := 3 + rng.Intn(6)
	type member struct {
		name  string
		words int
	}
	members := make([]member, nMembers)
	for i := range members {
		members[i] = member{
			name: fmt.Sprintf("%s_%04x%s",
				memberPrefixes[rng.Intn(len(memberPrefixes))],
				rng.Intn(0x10000),
				memberSuffixes[rng.Intn(len(memberSuffixes))]),
			words: 500 + rng.Intn(2000),
		}
	}

	var session *Session
	if model != nil {
		session = NewSession(model, seed)
	}

	// The compressor buffers a member until the next one starts, so cw.n
	// lags behind. Budgeting uses a worst-case bound for anything still in
	// flight: deflate output never exceeds input by more than ~0.1% plus a
	// few block headers.
	var pending int64
	for _, m := range members {
		var body bytes.Buffer
		if err := writeMemberBody(&body, session, rng, m.words); err != nil {
			return cw.n, fmt.Errorf("render archive member %s: %w", m.name, err)
		}
		worst := int64(body.Len()) + int64(body.Len())/1000 + 256
		if cw.n+pending+worst+2048 > maxBytes {
			break
		}
		f, err := zw.CreateHeader(&zip.FileHeader{Name: m.name, Method: zip.Deflate})
		if err != nil {
			return cw.n, fmt.Errorf("create archive member %s: %w", m.name, err)
		}
		if _, err := f.Write(body.Bytes()); err != nil {
			return cw.n, fmt.Errorf("write archive member %s: %w", m.name, err)
		}
		pending = worst
	}

	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("finalize archive: %w", err)
	}
	return cw.n, nil
}

func writeMemberBody(w io.Writer, session *Session, rng *rand.Rand, words int) error {
	if session != nil {
		if ws := session.Words(words); len(ws) > 0 {
			_, err := io.WriteString(w, strings.Join(ws, " "))
			return err
		}
	}
	line := fmt.Sprintf("%08x,pending,0\n", rng.Uint32())
	for i := 0; i < words; i++ {
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
