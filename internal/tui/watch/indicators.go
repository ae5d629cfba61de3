package watch

import (
	"strings"
	"time"
)

// Pulse lights up on dispatch activity and fades over ten seconds.
type Pulse struct {
	dots int
	last time.Time
}

func (p *Pulse) OnEvent(now time.Time) {
	p.dots = 5
	p.last = now
}

// Decay dims one dot per two quiet seconds.
func (p *Pulse) Decay(now time.Time) {
	if p.dots == 0 {
		return
	}
	quiet := int(now.Sub(p.last) / (2 * time.Second))
	p.dots = max(0, 5-quiet)
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < p.dots {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}

func (p Pulse) Last() time.Time { return p.last }
