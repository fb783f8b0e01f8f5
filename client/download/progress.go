package download

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c2h5oh/datasize"
)

// progressWriter logs download progress at most once per second, and
// once more when total bytes arrived.
type progressWriter struct {
	logger    *slog.Logger
	total     int64
	startTime time.Time
	lastLog   time.Time
}

func (pw *progressWriter) update(transferred int64) {
	if time.Since(pw.lastLog) >= time.Second {
		pw.lastLog = time.Now()
		pw.log("downloading", transferred)
	}

	if pw.total >= 0 && transferred == pw.total {
		pw.log("download complete", transferred)
	}
}

func (pw *progressWriter) log(msg string, transferred int64) {
	elapsed := time.Since(pw.startTime)
	perSec := datasize.ByteSize(float64(transferred) / max(elapsed.Seconds(), 1e-9))

	attrs := []any{
		"elapsed", elapsed.Round(time.Millisecond),
		"transferred", datasize.ByteSize(transferred).HumanReadable(),
		"rate", perSec.HumanReadable() + "/s",
	}
	if pw.total > 0 {
		attrs = append(attrs,
			"progress", fmt.Sprintf("%.1f%%", float64(transferred)/float64(pw.total)*100),
			"total", datasize.ByteSize(pw.total).HumanReadable(),
		)
	}

	pw.logger.Info(msg, attrs...)
}
