package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tanq16/recmirror/internal/utils"
)

const indent = "  "

// Progress renders one transfer at a time. On a terminal it redraws a single
// line; elsewhere it prints one line when a transfer starts and one when it
// ends.
type Progress struct {
	w        io.Writer
	tty      bool
	interval time.Duration
	label    string
	total    int64
	current  int64
	start    time.Time
	lastDraw time.Time
	active   bool
}

func NewProgress(w io.Writer) *Progress {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isTerminal(f)
	}
	return &Progress{w: w, tty: tty, interval: 100 * time.Millisecond}
}

func (p *Progress) Start(label string, total int64) {
	p.label = label
	p.total = total
	p.current = 0
	p.start = time.Now()
	p.lastDraw = time.Time{}
	p.active = true
	if !p.tty {
		fmt.Fprintf(p.w, "%s%s %s %s\n", indent, StatusIndicator("pending"), FPending(label), FDebug(p.sizeText()))
	}
}

func (p *Progress) Add(n int64) {
	p.current += n
	if p.tty && time.Since(p.lastDraw) >= p.interval {
		p.draw()
	}
}

func (p *Progress) Finish() {
	if !p.active {
		return
	}
	p.active = false
	if p.tty {
		p.draw()
		fmt.Fprintln(p.w)
		return
	}
	elapsed := time.Since(p.start)
	fmt.Fprintf(p.w, "%s%s %s %s %s %s\n", indent, StatusIndicator("info"), label(p.label), FDebug(p.sizeText()),
		StyleSymbols["bullet"], FDebug(elapsed.Round(time.Millisecond).String()))
}

// Status reports a per-file decision such as a skip or a redownload.
func (p *Progress) Status(name, status, message string) {
	fmt.Fprintf(p.w, "%s%s %s %s\n", indent, StatusIndicator(status), label(name), styleMessage(status, message))
}

func (p *Progress) sizeText() string {
	if p.total < 0 {
		return utils.FormatBytes(uint64(p.current))
	}
	return fmt.Sprintf("%s / %s", utils.FormatBytes(uint64(max(p.current, 0))), utils.FormatBytes(uint64(p.total)))
}

func (p *Progress) draw() {
	p.lastDraw = time.Now()
	elapsed := time.Since(p.start).Seconds()
	barWidth := min(30, max(10, getTerminalWidth()-len(p.label)-50))
	line := fmt.Sprintf("%s%s %s%s %s %s", indent, label(p.label), PrintProgressBar(p.current, p.total, barWidth),
		FDebug(p.sizeText()), StyleSymbols["bullet"], FDebug(utils.FormatSpeed(p.current, elapsed)))
	fmt.Fprintf(p.w, "\r\033[K%s", line)
}

func label(name string) string {
	return FHeader(name)
}
