package window

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zhubert/agentshell/clock"
)

// DefaultWorkArea is used until the first display metrics arrive.
var DefaultWorkArea = Rect{Width: 1920, Height: 1080}

// Config holds window placement and voice timing.
type Config struct {
	Margin int

	// NudgeDelay is the pause between opening the Interaction window and
	// the blank-line nudge.
	NudgeDelay time.Duration

	// AutoVoiceDelay starts voice mode this long after the agent starts,
	// unless the Interaction window is open. Zero disables it.
	AutoVoiceDelay time.Duration

	WorkArea Rect
}

// Coordinator owns Indicator/Interaction visibility. Initially the
// Indicator is visible and the Interaction window does not exist.
type Coordinator struct {
	cfg     Config
	factory Factory
	agent   AgentControl
	clock   clock.Clock
	log     *slog.Logger

	mu             sync.Mutex
	active         bool
	workArea       Rect
	indicator      Surface
	interaction    Surface
	nudgeTimer     *clock.Timer
	autoVoiceTimer *clock.Timer
}

// NewCoordinator returns an inactive coordinator; call Start to show the
// Indicator.
func NewCoordinator(cfg Config, factory Factory, agent AgentControl, clk clock.Clock, log *slog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = slog.Default()
	}
	workArea := cfg.WorkArea
	if workArea.Width <= 0 || workArea.Height <= 0 {
		workArea = DefaultWorkArea
	}
	return &Coordinator{
		cfg:      cfg,
		factory:  factory,
		agent:    agent,
		clock:    clk,
		log:      log,
		workArea: workArea,
	}
}

// Start activates the coordinator and shows the Indicator.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = true
	ind, err := c.ensureLocked(Indicator)
	if err != nil {
		return err
	}
	c.placeLocked(Indicator, ind)
	ind.Show()
	c.log.Debug("indicator shown", "bounds", ind.Bounds())
	return nil
}

// IndicatorClicked opens the Interaction window in place of the Indicator,
// cancels a pending auto-voice start, stops voice mode and, after
// NudgeDelay, nudges the agent back to its prompt. The agent calls are
// best-effort.
func (c *Coordinator) IndicatorClicked() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}

	win, err := c.ensureLocked(Interaction)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.placeLocked(Interaction, win)
	win.Show()
	if c.indicator != nil {
		c.indicator.Hide()
	}

	c.autoVoiceTimer.Stop()
	c.autoVoiceTimer = nil
	c.nudgeTimer.Stop()
	c.nudgeTimer = nil
	c.mu.Unlock()

	c.log.Debug("interaction window opened")

	if c.agent.IsRunning() {
		if err := c.agent.StopVoiceMode(); err != nil {
			c.log.Debug("stop voice mode on open failed", "error", err)
		}
	}

	// Armed outside the lock: a zero delay runs the nudge immediately.
	timer := c.clock.AfterFunc(c.cfg.NudgeDelay, c.nudge)
	c.mu.Lock()
	if c.active {
		c.nudgeTimer = timer
	} else {
		timer.Stop()
	}
	c.mu.Unlock()
	return nil
}

// OpenInteraction is the open-interaction-window command. It runs the same
// flow as a click on the Indicator.
func (c *Coordinator) OpenInteraction() error {
	return c.IndicatorClicked()
}

func (c *Coordinator) nudge() {
	c.mu.Lock()
	c.nudgeTimer = nil
	active := c.active
	c.mu.Unlock()

	if !active || !c.agent.IsRunning() {
		return
	}
	if err := c.agent.Nudge(); err != nil {
		c.log.Debug("prompt nudge failed", "error", err)
	}
}

// InteractionClosed destroys the Interaction window and shows the Indicator
// again, recreating it if needed. Voice mode is not resumed.
func (c *Coordinator) InteractionClosed() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.interaction != nil {
		c.interaction.Destroy()
		c.interaction = nil
	}
	if !c.active {
		return nil
	}

	ind, err := c.ensureLocked(Indicator)
	if err != nil {
		return err
	}
	c.placeLocked(Indicator, ind)
	ind.Show()
	c.log.Debug("interaction window closed")
	return nil
}

// DisplayMetricsChanged records a new work area and moves the visible
// windows. Visibility does not change.
func (c *Coordinator) DisplayMetricsChanged(area Rect) error {
	if area.Width <= 0 || area.Height <= 0 {
		return fmt.Errorf("invalid work area %dx%d", area.Width, area.Height)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.workArea = area
	for kind, s := range map[Kind]Surface{Indicator: c.indicator, Interaction: c.interaction} {
		if s != nil && !s.Destroyed() && s.Visible() {
			c.placeLocked(kind, s)
		}
	}
	c.log.Debug("display metrics changed", "workArea", area)
	return nil
}

// AgentStarted arms the auto-voice timer when AutoVoiceDelay is set.
func (c *Coordinator) AgentStarted() {
	if c.cfg.AutoVoiceDelay <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.autoVoiceTimer.Stop()
	c.autoVoiceTimer = c.clock.AfterFunc(c.cfg.AutoVoiceDelay, c.autoVoice)
}

func (c *Coordinator) autoVoice() {
	c.mu.Lock()
	c.autoVoiceTimer = nil
	skip := !c.active || (c.interaction != nil && c.interaction.Visible())
	c.mu.Unlock()

	if skip || !c.agent.IsRunning() {
		return
	}
	if err := c.agent.StartVoiceMode(); err != nil {
		c.log.Warn("auto voice start failed", "error", err)
		return
	}
	c.log.Info("voice mode started automatically")
}

// AgentExited cancels a pending auto-voice start. Windows stay as they are;
// UI surfaces learn about the exit from the agent-closed event.
func (c *Coordinator) AgentExited(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoVoiceTimer.Stop()
	c.autoVoiceTimer = nil
	c.log.Debug("agent exited", "code", code)
}

// Deactivate is called on shutdown. Timers are cancelled, both windows are
// destroyed, and the Indicator is not recreated afterwards.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = false
	c.autoVoiceTimer.Stop()
	c.autoVoiceTimer = nil
	c.nudgeTimer.Stop()
	c.nudgeTimer = nil

	if c.interaction != nil {
		c.interaction.Destroy()
		c.interaction = nil
	}
	if c.indicator != nil {
		c.indicator.Destroy()
		c.indicator = nil
	}
}

// Snapshot returns the state of both windows.
func (c *Coordinator) Snapshot() []State {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := make([]State, 0, 2)
	for _, kind := range []Kind{Indicator, Interaction} {
		st := State{Kind: kind}
		if s := c.surfaceLocked(kind); s != nil && !s.Destroyed() {
			st.Exists = true
			st.Visible = s.Visible()
			st.Bounds = s.Bounds()
		}
		states = append(states, st)
	}
	return states
}

// WorkArea returns the current work area.
func (c *Coordinator) WorkArea() Rect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workArea
}

func (c *Coordinator) surfaceLocked(kind Kind) Surface {
	if kind == Indicator {
		return c.indicator
	}
	return c.interaction
}

// ensureLocked returns the surface of kind, creating it if it is missing
// or was destroyed externally.
func (c *Coordinator) ensureLocked(kind Kind) (Surface, error) {
	if s := c.surfaceLocked(kind); s != nil && !s.Destroyed() {
		return s, nil
	}

	s, err := c.factory.Create(kind)
	if err != nil {
		c.log.Error("failed to create window", "kind", kind.String(), "error", err)
		return nil, fmt.Errorf("failed to create %s window: %w", kind, err)
	}
	if kind == Indicator {
		c.indicator = s
	} else {
		c.interaction = s
	}
	c.log.Debug("window created", "kind", kind.String())
	return s, nil
}

// placeLocked anchors the Indicator at the top-right corner and centers the
// Interaction window vertically on the right edge.
func (c *Coordinator) placeLocked(kind Kind, s Surface) {
	b := s.Bounds()
	wa := c.workArea
	x := wa.X + wa.Width - b.Width - c.cfg.Margin
	y := wa.Y + c.cfg.Margin
	if kind == Interaction {
		y = wa.Y + (wa.Height-b.Height)/2
	}
	s.SetPosition(x, y)
}
