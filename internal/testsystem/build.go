package testsystem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjboer/bpmtest/internal/atten"
	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/epics"
	"github.com/rjboer/bpmtest/internal/gate"
	"github.com/rjboer/bpmtest/internal/hostinfo"
	"github.com/rjboer/bpmtest/internal/itech"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/rfsig"
	"github.com/rjboer/bpmtest/internal/trigger"
)

// Options carries the collaborators New needs besides the configuration.
type Options struct {
	Logger logging.Logger
	// EPICS serves the EPICS backed BPMs; nil uses the caget/caput tools.
	EPICS epics.Client
	// Resolver finds the BPM MAC address; nil tries arp then SSH.
	Resolver hostinfo.Resolver
	// Sleep is used for BPM settling waits; nil is time.Sleep.
	Sleep func(time.Duration)
}

// builder opens the instruments of one Config, sharing a single session
// per BL12HI address.
type builder struct {
	cfg      Config
	opts     Options
	log      logging.Logger
	sessions map[string]*itech.Session
	order    []*itech.Session
	closers  []func() error
}

// New opens every instrument selected in cfg. On failure the instruments
// already opened are closed again.
func New(ctx context.Context, cfg Config, opts Options) (*System, error) {
	b := &builder{
		cfg:      cfg,
		opts:     opts,
		log:      logging.OrDefault(opts.Logger),
		sessions: map[string]*itech.Session{},
	}
	sys, err := b.build(ctx)
	if err != nil {
		return nil, errors.Join(err, b.rollback())
	}
	return sys, nil
}

func (b *builder) build(ctx context.Context) (*System, error) {
	var d Devices
	var err error

	b.log.Info("initialising RF source", logging.F("hw", b.cfg.RFHW))
	if d.RF, err = b.rf(ctx); err != nil {
		return nil, fmt.Errorf("rf source: %w", err)
	}
	b.track(d.RF.Close)

	b.log.Info("initialising gate", logging.F("hw", b.cfg.GateHW))
	if d.Gate, err = b.gate(ctx); err != nil {
		return nil, fmt.Errorf("gate source: %w", err)
	}
	if d.Gate != nil {
		b.track(d.Gate.Close)
	}

	b.log.Info("initialising trigger", logging.F("hw", b.cfg.TriggerHW))
	if d.Trigger, err = b.trigger(ctx); err != nil {
		return nil, fmt.Errorf("trigger source: %w", err)
	}
	if d.Trigger != nil {
		b.track(d.Trigger.Close)
	}

	b.log.Info("initialising programmable attenuator", logging.F("hw", b.cfg.AttenHW))
	if d.Atten, err = b.atten(ctx); err != nil {
		return nil, fmt.Errorf("attenuator: %w", err)
	}
	if d.Atten != nil {
		b.track(d.Atten.Close)
	}

	b.log.Info("initialising BPM", logging.F("hw", b.cfg.BPMHW))
	if d.BPM, err = b.bpm(ctx, d); err != nil {
		return nil, fmt.Errorf("bpm: %w", err)
	}

	losses := b.cfg.ChannelLosses
	if losses == ([4]float64{}) {
		losses = DefaultLosses
	}
	sys := FromDevices(d, losses, b.opts.Logger)
	sys.sessions = b.order
	return sys, nil
}

func (b *builder) track(closeFn func() error) { b.closers = append(b.closers, closeFn) }

func (b *builder) rollback() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	for _, s := range b.order {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (b *builder) session(ctx context.Context, dc DeviceConfig) (*itech.Session, error) {
	addr := dc.Addr(rfsig.ITechPort)
	if s, ok := b.sessions[addr]; ok {
		return s, nil
	}
	s, err := itech.Dial(ctx, addr, dc.Timeout(), b.opts.Logger)
	if err != nil {
		return nil, err
	}
	b.sessions[addr] = s
	b.order = append(b.order, s)
	return s, nil
}

func (b *builder) rf(ctx context.Context) (rfsig.Generator, error) {
	dc := b.cfg.RF
	switch b.cfg.RFHW {
	case HWSimulated:
		return rfsig.NewSimulated(limitOr(dc.PowerLimit, rfsig.ITechDefaultLimit), b.opts.Logger), nil
	case HWITech:
		s, err := b.session(ctx, dc)
		if err != nil {
			return nil, err
		}
		return rfsig.NewITech(ctx, s, limitOr(dc.PowerLimit, rfsig.ITechDefaultLimit), b.opts.Logger)
	case HWRigol:
		return rfsig.DialRigol(ctx, dc.Addr(rfsig.RigolPort), dc.Timeout(), limitOr(dc.PowerLimit, rfsig.RigolDefaultLimit), b.opts.Logger)
	default:
		return nil, fmt.Errorf("rf_hw %q: %w", b.cfg.RFHW, ErrUnknownDevice)
	}
}

func (b *builder) gate(ctx context.Context) (gate.Source, error) {
	switch b.cfg.GateHW {
	case HWNone:
		return nil, nil
	case HWSimulated:
		return gate.NewSimulated(BunchLength(HardwareFrequency)), nil
	case HWITech:
		s, err := b.session(ctx, b.cfg.Gate)
		if err != nil {
			return nil, err
		}
		return gate.NewITech(ctx, s, b.opts.Logger)
	default:
		return nil, fmt.Errorf("gate_hw %q: %w", b.cfg.GateHW, ErrUnknownDevice)
	}
}

func (b *builder) trigger(ctx context.Context) (trigger.Source, error) {
	switch b.cfg.TriggerHW {
	case HWNone:
		return nil, nil
	case HWSimulated:
		return trigger.NewSimulated(), nil
	case HWITech:
		s, err := b.session(ctx, b.cfg.Trigger)
		if err != nil {
			return nil, err
		}
		return trigger.NewITech(ctx, s, b.opts.Logger)
	case HWAgilent33220A:
		dc := b.cfg.Trigger
		return trigger.DialAgilent33220A(ctx, dc.Addr(trigger.AgilentPort), dc.Timeout(), b.opts.Logger)
	default:
		return nil, fmt.Errorf("trigger_hw %q: %w", b.cfg.TriggerHW, ErrUnknownDevice)
	}
}

func (b *builder) atten(ctx context.Context) (atten.Attenuator, error) {
	switch b.cfg.AttenHW {
	case HWNone:
		return nil, nil
	case HWSimulated:
		return atten.NewSimulated(), nil
	case HWRC4DAT:
		dc := b.cfg.Atten
		return atten.DialRC4DAT6G95(ctx, dc.Addr(atten.Port), dc.Timeout(), b.opts.Logger)
	default:
		return nil, fmt.Errorf("atten_hw %q: %w", b.cfg.AttenHW, ErrUnknownDevice)
	}
}

func (b *builder) bpm(ctx context.Context, d Devices) (bpm.Device, error) {
	bc := b.cfg.BPM
	opts := bpm.Options{Logger: b.opts.Logger, Resolver: b.resolver(), Sleep: b.opts.Sleep}
	switch b.cfg.BPMHW {
	case HWSimulated:
		var g bpm.GateSource
		if d.Gate != nil {
			g = d.Gate
		}
		var a bpm.AttenuationSource
		if d.Atten != nil {
			a = d.Atten
		}
		return bpm.NewSimulated(d.RF, g, a), nil
	case HWElectron:
		return bpm.NewElectron(ctx, b.epicsClient(), bc.EpicsID, opts)
	case HWBrilliance:
		return bpm.NewBrilliance(ctx, b.epicsClient(), bc.EpicsID, opts)
	case HWSparkERXR:
		return bpm.NewSparkERXR(ctx, b.epicsClient(), bc.Database, bc.DAQ, opts)
	case HWSparkER:
		return bpm.DialSparkER(ctx, bc.Addr(bpm.SparkERPort), bpm.SparkEROptions{
			Options:     opts,
			Timeout:     bc.Timeout(),
			AutoTrigger: bc.AutoTrigger,
		})
	default:
		return nil, fmt.Errorf("bpm_hw %q: %w", b.cfg.BPMHW, ErrUnknownDevice)
	}
}

func (b *builder) epicsClient() epics.Client {
	if b.opts.EPICS != nil {
		return b.opts.EPICS
	}
	return epics.NewCATools(b.opts.Logger)
}

func (b *builder) resolver() hostinfo.Resolver {
	if b.opts.Resolver != nil {
		return b.opts.Resolver
	}
	return hostinfo.Chain{
		Resolvers: []hostinfo.Resolver{hostinfo.ARPResolver{}, hostinfo.NewSSHResolver(b.cfg.SSH)},
		Logger:    b.opts.Logger,
	}
}

func limitOr(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// NewSimulated opens the simulated bench: RF source, gate, trigger and
// attenuator feeding a simulated BPM.
func NewSimulated(ctx context.Context, limit float64, logger logging.Logger) (*System, error) {
	cfg := SimulatedConfig()
	cfg.RF.PowerLimit = limit
	return New(ctx, cfg, Options{Logger: logger})
}
