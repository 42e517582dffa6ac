package progress

import "io"

// Reader wraps an io.Reader and reports cumulative progress via a callback.
// Reports are throttled to every interval bytes so slow consumers of the
// callback are not flooded on fast links.
type Reader struct {
	reader     io.Reader
	total      int64
	onProgress func(written int64, total int64)

	totalRead  int64 // cumulative total
	sinceLast  int64 // bytes since last report
	interval   int64 // report every N bytes
}

func NewReader(r io.Reader, total int64, interval int64, cb func(written int64, total int64)) *Reader {
	if interval <= 0 {
		interval = 1
	}

	return &Reader{
		reader:     r,
		total:      total,
		onProgress: cb,
		interval:   interval,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.sinceLast += int64(n)

		if pr.sinceLast >= pr.interval {
			pr.onProgress(pr.totalRead, pr.total)
			pr.sinceLast = 0
		}
	}

	if err == io.EOF && pr.sinceLast > 0 {
		// Final report so the consumer always sees the last byte count.
		pr.onProgress(pr.totalRead, pr.total)
		pr.sinceLast = 0
	}

	return n, err
}
