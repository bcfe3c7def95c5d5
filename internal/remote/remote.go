// Package remote holds helpers shared by the remote attachment sources.
package remote

import (
	"bytes"
	"fmt"
	"io"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/domain"
)

const chunkSize = 32 * 1024

// ReadAll drains r, reporting progress against total when it is known
// (total > 0). It fails with domain.ErrTooLarge once more than limit bytes
// have been read; limit <= 0 disables the check.
func ReadAll(r io.Reader, total, limit int64, progress app.ProgressFunc) ([]byte, error) {
	if limit > 0 && total > limit {
		return nil, fmt.Errorf("%w: remote reports %d bytes, limit is %d", domain.ErrTooLarge, total, limit)
	}
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	chunk := make([]byte, chunkSize)
	last := -1
	report := func(p int) {
		if progress != nil && p != last {
			last = p
			progress(domain.ClampProgress(p))
		}
	}
	report(0)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if limit > 0 && int64(buf.Len()) > limit {
				return nil, fmt.Errorf("%w: more than %d bytes", domain.ErrTooLarge, limit)
			}
			if total > 0 {
				report(int(int64(buf.Len()) * 100 / total))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	report(100)
	return buf.Bytes(), nil
}
