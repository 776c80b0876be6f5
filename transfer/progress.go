package transfer

import (
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/pithecene-io/espterm/protocol"
	"github.com/pithecene-io/espterm/types"
)

// NewProgressBar returns a progress factory drawing byte progress bars
// on w. Reads learn their size from the device, so the bar is created on
// the first snapshot that carries a size.
func NewProgressBar(w io.Writer) func(types.TransferDirection, string) protocol.Observer {
	return func(dir types.TransferDirection, name string) protocol.Observer {
		var bar *progressbar.ProgressBar
		desc := "Uploading " + name
		if dir == types.DirectionRead {
			desc = "Downloading " + name
		}
		return func(s types.TransferSession) {
			if bar == nil {
				if s.TotalSize <= 0 {
					return
				}
				bar = progressbar.NewOptions64(s.TotalSize,
					progressbar.OptionSetWriter(w),
					progressbar.OptionSetWidth(20),
					progressbar.OptionShowBytes(true),
					progressbar.OptionShowCount(),
					progressbar.OptionSetDescription(desc),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "=",
						SaucerHead:    ">",
						SaucerPadding: "-",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
			}
			_ = bar.Set64(s.BytesDone)
			if s.State.IsTerminal() {
				if s.State == types.TransferDone {
					_ = bar.Finish()
				}
				_, _ = io.WriteString(w, "\n")
			}
		}
	}
}
