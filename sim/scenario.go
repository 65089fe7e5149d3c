package sim

import (
	"encoding/hex"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrScenarioInvalid wraps every scenario validation failure so callers
// can map it to the dedicated exit code.
var ErrScenarioInvalid = errors.New("scenario invalid")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrScenarioInvalid, fmt.Sprintf(format, args...))
}

// Scenario is the validated, lowered description of one run. All relative
// and repeating directive forms have been expanded to absolute instants by
// the time a Scenario exists.
type Scenario struct {
	Seed           uint64
	Horizon        SimTime
	SnapshotPeriod SimTime
	// Quiescence is the silence window: once nothing but periodic snapshot
	// ticks is pending and this much simulated time has passed since the
	// last real event, the run stops as quiescent. Zero stops as soon as
	// only ticks remain.
	Quiescence     SimTime
	Protocol       string
	Nodes          uint32
	InboxCap       int
	DefaultLink    LinkProps
	LinkOverrides  []LinkOverride
	Actions        []TimedAction
}

// LinkOverride replaces the default properties of one directed link.
type LinkOverride struct {
	Src   NodeID
	Dst   NodeID
	Props LinkProps
}

// TimedAction is one directive pinned to an absolute instant.
type TimedAction struct {
	At     SimTime
	Action Action
}

// ActionKind enumerates the directive vocabulary.
type ActionKind string

const (
	ActionCrash       ActionKind = "crash"
	ActionRestart     ActionKind = "restart"
	ActionPause       ActionKind = "pause"
	ActionResume      ActionKind = "resume"
	ActionPartition   ActionKind = "partition"
	ActionHeal        ActionKind = "heal"
	ActionLinkPatch   ActionKind = "link-patch"
	ActionLinkPop     ActionKind = "link-pop"
	ActionStoreFaults ActionKind = "store-faults"
	ActionClockSkew   ActionKind = "clock-skew"
	ActionByzantine   ActionKind = "byzantine"
	ActionHalt        ActionKind = "halt"
)

// Action is the payload of one directive. Which fields are meaningful
// depends on Kind; validation rejects combinations that make no sense.
type Action struct {
	Kind ActionKind

	Node NodeID
	// Duration arms the automatic restart after a crash; zero means the
	// node stays down unless an explicit restart follows.
	Duration SimTime

	Groups [][]NodeID

	// Link selection for link-patch and link-pop. AllLinks applies the
	// patch to every link in ascending link-ID order.
	Src      NodeID
	Dst      NodeID
	AllLinks bool
	Patch    LinkPatch
	Expires  SimTime

	StoreProfile StoreFaultProfile

	SkewNanos int64

	Payload []byte
	Targets []NodeID

	Reason string
}

// scenarioConfig is the YAML surface. Probabilities are floats here and
// fixed-point after conversion; times are integer nanoseconds.
type scenarioConfig struct {
	Seed           uint64            `yaml:"seed"`
	HorizonNs      uint64            `yaml:"horizon_ns"`
	SnapshotNs     uint64            `yaml:"snapshot_period_ns"`
	QuiescenceNs   uint64            `yaml:"quiescence_after_ns"`
	Protocol       string            `yaml:"protocol"`
	Nodes          uint32            `yaml:"nodes"`
	InboxCap       int               `yaml:"inbox_cap"`
	DefaultLink    linkConfig        `yaml:"link_defaults"`
	LinkOverrides  []linkOverrideCfg `yaml:"link_overrides"`
	Directives     []directiveConfig `yaml:"directives"`
}

type linkConfig struct {
	BaseDelayNs  uint64    `yaml:"base_delay_ns"`
	Jitter       DelaySpec `yaml:"jitter"`
	Drop         float64   `yaml:"drop"`
	Duplicate    float64   `yaml:"duplicate"`
	Reorder      float64   `yaml:"reorder"`
	Corrupt      float64   `yaml:"corrupt"`
	BandwidthBps uint64    `yaml:"bandwidth_bps"`
	MTU          uint64    `yaml:"mtu"`
}

func (c linkConfig) toProps() (LinkProps, error) {
	var p LinkProps
	var err error
	p.BaseDelay = TimeFromNanos(c.BaseDelayNs)
	p.Jitter = c.Jitter
	if err = c.Jitter.Validate(); err != nil {
		return p, err
	}
	if p.Drop, err = ProbFromFloat(c.Drop); err != nil {
		return p, fmt.Errorf("drop: %w", err)
	}
	if p.Duplicate, err = ProbFromFloat(c.Duplicate); err != nil {
		return p, fmt.Errorf("duplicate: %w", err)
	}
	if p.Reorder, err = ProbFromFloat(c.Reorder); err != nil {
		return p, fmt.Errorf("reorder: %w", err)
	}
	if p.Corrupt, err = ProbFromFloat(c.Corrupt); err != nil {
		return p, fmt.Errorf("corrupt: %w", err)
	}
	p.Bandwidth = c.BandwidthBps
	p.MTU = c.MTU
	return p, nil
}

type linkOverrideCfg struct {
	Src        uint32     `yaml:"src"`
	Dst        uint32     `yaml:"dst"`
	linkConfig `yaml:",inline"`
}

// directiveConfig carries one action plus exactly one scheduling form:
// at_ns (absolute), after_ns (relative to epoch, sugar for readability in
// hand-written files), or every (repeating).
type directiveConfig struct {
	AtNs    *uint64      `yaml:"at_ns"`
	AfterNs *uint64      `yaml:"after_ns"`
	Every   *everyConfig `yaml:"every"`
	Action  actionConfig `yaml:"action"`
}

type everyConfig struct {
	StartNs  uint64 `yaml:"start_ns"`
	PeriodNs uint64 `yaml:"period_ns"`
	Repeats  uint64 `yaml:"repeats"`
}

type actionConfig struct {
	Kind       string     `yaml:"kind"`
	Node       *uint32    `yaml:"node"`
	DurationNs uint64     `yaml:"duration_ns"`
	Groups     [][]uint32 `yaml:"groups"`
	Src        *uint32    `yaml:"src"`
	Dst        *uint32    `yaml:"dst"`
	AllLinks   bool       `yaml:"all_links"`
	ExpiresNs  uint64     `yaml:"expires_ns"`

	BaseDelayNs  *uint64    `yaml:"base_delay_ns"`
	Jitter       *DelaySpec `yaml:"jitter"`
	Drop         *float64   `yaml:"drop"`
	Duplicate    *float64   `yaml:"duplicate"`
	Reorder      *float64   `yaml:"reorder"`
	Corrupt      *float64   `yaml:"corrupt"`
	BandwidthBps *uint64    `yaml:"bandwidth_bps"`
	MTU          *uint64    `yaml:"mtu"`

	StoreLatency     *DelaySpec `yaml:"store_latency"`
	StoreWriteError  float64    `yaml:"store_write_error"`
	StoreReadError   float64    `yaml:"store_read_error"`
	StoreSyncError   float64    `yaml:"store_sync_error"`
	StoreReadCorrupt float64    `yaml:"store_read_corrupt"`
	StoreTornWrite   float64    `yaml:"store_torn_write"`
	StoreSyncLoss    float64    `yaml:"store_sync_loss"`

	SkewNanos int64 `yaml:"skew_ns"`

	PayloadHex string   `yaml:"payload_hex"`
	Targets    []uint32 `yaml:"targets"`

	Reason string `yaml:"reason"`
}

// LoadScenario parses, validates, and lowers a YAML scenario document.
func LoadScenario(data []byte) (*Scenario, error) {
	var cfg scenarioConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, invalidf("parse: %v", err)
	}
	return cfg.build()
}

func (cfg *scenarioConfig) build() (*Scenario, error) {
	if cfg.Nodes == 0 {
		return nil, invalidf("nodes must be positive")
	}
	if cfg.HorizonNs == 0 {
		return nil, invalidf("horizon_ns must be positive")
	}
	if cfg.Protocol == "" {
		return nil, invalidf("protocol is required")
	}
	sc := &Scenario{
		Seed:           cfg.Seed,
		Horizon:        TimeFromNanos(cfg.HorizonNs),
		SnapshotPeriod: TimeFromNanos(cfg.SnapshotNs),
		Quiescence:     TimeFromNanos(cfg.QuiescenceNs),
		Protocol:       cfg.Protocol,
		Nodes:          cfg.Nodes,
		InboxCap:       cfg.InboxCap,
	}
	if sc.InboxCap == 0 {
		sc.InboxCap = DefaultInboxCap
	}

	var err error
	if sc.DefaultLink, err = cfg.DefaultLink.toProps(); err != nil {
		return nil, invalidf("link_defaults: %v", err)
	}
	for i, o := range cfg.LinkOverrides {
		if o.Src >= cfg.Nodes || o.Dst >= cfg.Nodes {
			return nil, invalidf("link_overrides[%d]: node out of range", i)
		}
		props, err := o.toProps()
		if err != nil {
			return nil, invalidf("link_overrides[%d]: %v", i, err)
		}
		sc.LinkOverrides = append(sc.LinkOverrides, LinkOverride{
			Src: NodeID(o.Src), Dst: NodeID(o.Dst), Props: props,
		})
	}

	for i, d := range cfg.Directives {
		action, err := d.Action.build(cfg.Nodes)
		if err != nil {
			return nil, invalidf("directives[%d]: %v", i, err)
		}
		times, err := d.lowerTimes(sc.Horizon)
		if err != nil {
			return nil, invalidf("directives[%d]: %v", i, err)
		}
		for _, at := range times {
			sc.Actions = append(sc.Actions, TimedAction{At: at, Action: action})
		}
	}
	return sc, nil
}

// lowerTimes expands the scheduling form into absolute instants. Repeats
// past the horizon are clipped rather than rejected.
func (d *directiveConfig) lowerTimes(horizon SimTime) ([]SimTime, error) {
	forms := 0
	if d.AtNs != nil {
		forms++
	}
	if d.AfterNs != nil {
		forms++
	}
	if d.Every != nil {
		forms++
	}
	if forms != 1 {
		return nil, fmt.Errorf("exactly one of at_ns, after_ns, every is required")
	}
	switch {
	case d.AtNs != nil:
		return []SimTime{TimeFromNanos(*d.AtNs)}, nil
	case d.AfterNs != nil:
		return []SimTime{TimeFromNanos(*d.AfterNs)}, nil
	default:
		ev := d.Every
		if ev.PeriodNs == 0 {
			return nil, fmt.Errorf("every.period_ns must be positive")
		}
		if ev.Repeats == 0 {
			return nil, fmt.Errorf("every.repeats must be positive")
		}
		var times []SimTime
		at := TimeFromNanos(ev.StartNs)
		for i := uint64(0); i < ev.Repeats; i++ {
			if at.After(horizon) {
				break
			}
			times = append(times, at)
			at = at.AddNanos(ev.PeriodNs)
		}
		return times, nil
	}
}

func (a *actionConfig) build(nodes uint32) (Action, error) {
	out := Action{Kind: ActionKind(a.Kind)}
	needNode := func() error {
		if a.Node == nil {
			return fmt.Errorf("%s: node is required", a.Kind)
		}
		if *a.Node >= nodes {
			return fmt.Errorf("%s: node %d out of range", a.Kind, *a.Node)
		}
		out.Node = NodeID(*a.Node)
		return nil
	}
	switch out.Kind {
	case ActionCrash:
		if err := needNode(); err != nil {
			return out, err
		}
		out.Duration = TimeFromNanos(a.DurationNs)
	case ActionRestart, ActionPause, ActionResume:
		if err := needNode(); err != nil {
			return out, err
		}
	case ActionPartition:
		if len(a.Groups) < 2 {
			return out, fmt.Errorf("partition needs at least two groups")
		}
		seen := make(map[uint32]struct{})
		for gi, g := range a.Groups {
			if len(g) == 0 {
				return out, fmt.Errorf("partition group %d is empty", gi)
			}
			var ids []NodeID
			for _, n := range g {
				if n >= nodes {
					return out, fmt.Errorf("partition group %d: node %d out of range", gi, n)
				}
				if _, dup := seen[n]; dup {
					return out, fmt.Errorf("partition groups overlap on node %d", n)
				}
				seen[n] = struct{}{}
				ids = append(ids, NodeID(n))
			}
			out.Groups = append(out.Groups, ids)
		}
	case ActionHeal:
	case ActionLinkPatch:
		if !a.AllLinks {
			if a.Src == nil || a.Dst == nil {
				return out, fmt.Errorf("link-patch needs src and dst, or all_links")
			}
			if *a.Src >= nodes || *a.Dst >= nodes {
				return out, fmt.Errorf("link-patch: node out of range")
			}
			out.Src = NodeID(*a.Src)
			out.Dst = NodeID(*a.Dst)
		}
		out.AllLinks = a.AllLinks
		out.Expires = TimeFromNanos(a.ExpiresNs)
		patch, err := a.buildPatch()
		if err != nil {
			return out, err
		}
		out.Patch = patch
	case ActionLinkPop:
		if !a.AllLinks {
			if a.Src == nil || a.Dst == nil {
				return out, fmt.Errorf("link-pop needs src and dst, or all_links")
			}
			out.Src = NodeID(*a.Src)
			out.Dst = NodeID(*a.Dst)
		}
		out.AllLinks = a.AllLinks
	case ActionStoreFaults:
		if err := needNode(); err != nil {
			return out, err
		}
		profile, err := a.buildStoreProfile()
		if err != nil {
			return out, err
		}
		out.StoreProfile = profile
	case ActionClockSkew:
		if err := needNode(); err != nil {
			return out, err
		}
		out.SkewNanos = a.SkewNanos
	case ActionByzantine:
		payload, err := hex.DecodeString(a.PayloadHex)
		if err != nil {
			return out, fmt.Errorf("byzantine: payload_hex: %v", err)
		}
		out.Payload = payload
		if len(a.Targets) == 0 {
			for n := uint32(0); n < nodes; n++ {
				out.Targets = append(out.Targets, NodeID(n))
			}
		} else {
			for _, n := range a.Targets {
				if n >= nodes {
					return out, fmt.Errorf("byzantine: target %d out of range", n)
				}
				out.Targets = append(out.Targets, NodeID(n))
			}
		}
	case ActionHalt:
		out.Reason = a.Reason
		if out.Reason == "" {
			out.Reason = "scenario halt"
		}
	default:
		return out, fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return out, nil
}

func (a *actionConfig) buildPatch() (LinkPatch, error) {
	var p LinkPatch
	if a.BaseDelayNs != nil {
		t := TimeFromNanos(*a.BaseDelayNs)
		p.BaseDelay = &t
	}
	if a.Jitter != nil {
		if err := a.Jitter.Validate(); err != nil {
			return p, err
		}
		p.Jitter = a.Jitter
	}
	conv := func(f *float64, dst **Probability, name string) error {
		if f == nil {
			return nil
		}
		v, err := ProbFromFloat(*f)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = &v
		return nil
	}
	if err := conv(a.Drop, &p.Drop, "drop"); err != nil {
		return p, err
	}
	if err := conv(a.Duplicate, &p.Duplicate, "duplicate"); err != nil {
		return p, err
	}
	if err := conv(a.Reorder, &p.Reorder, "reorder"); err != nil {
		return p, err
	}
	if err := conv(a.Corrupt, &p.Corrupt, "corrupt"); err != nil {
		return p, err
	}
	p.Bandwidth = a.BandwidthBps
	p.MTU = a.MTU
	return p, nil
}

func (a *actionConfig) buildStoreProfile() (StoreFaultProfile, error) {
	var prof StoreFaultProfile
	if a.StoreLatency != nil {
		if err := a.StoreLatency.Validate(); err != nil {
			return prof, fmt.Errorf("store_latency: %w", err)
		}
		prof.Latency = *a.StoreLatency
	}
	conv := func(f float64, dst *Probability, name string) error {
		v, err := ProbFromFloat(f)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = v
		return nil
	}
	if err := conv(a.StoreWriteError, &prof.WriteError, "store_write_error"); err != nil {
		return prof, err
	}
	if err := conv(a.StoreReadError, &prof.ReadError, "store_read_error"); err != nil {
		return prof, err
	}
	if err := conv(a.StoreSyncError, &prof.SyncError, "store_sync_error"); err != nil {
		return prof, err
	}
	if err := conv(a.StoreReadCorrupt, &prof.ReadCorrupt, "store_read_corrupt"); err != nil {
		return prof, err
	}
	if err := conv(a.StoreTornWrite, &prof.TornWrite, "store_torn_write"); err != nil {
		return prof, err
	}
	if err := conv(a.StoreSyncLoss, &prof.SyncLoss, "store_sync_loss"); err != nil {
		return prof, err
	}
	return prof, nil
}
