package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// Source is the engine read surface the projector copies from.
type Source interface {
	Agreement(ctx context.Context, id uint64) (*model.Agreement, error)
	Mandate(ctx context.Context, id uint64) (*model.Mandate, error)
}

// batch is everything one committed call changed, copied out of the engine
// while the call still holds the host.
type batch struct {
	events     []*model.EventRecord
	agreements []*model.Agreement
	mandates   []*model.Mandate
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithQueue makes the projector write from Run instead of inside the call.
// Publish only blocks once size batches are waiting.
func WithQueue(size int) ProjectorOption {
	return func(p *Projector) {
		if size > 0 {
			p.queue = make(chan batch, size)
		}
	}
}

// Projector journals every committed notification and refreshes the
// projection of the agreements and mandates they touched. It is a host
// sink; failures are logged because the call has already committed.
type Projector struct {
	store  Store
	source Source
	log    *logrus.Entry
	queue  chan batch
}

// NewProjector creates a projector writing to st.
func NewProjector(st Store, src Source, log *logrus.Entry, opts ...ProjectorOption) *Projector {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	p := &Projector{store: st, source: src, log: log.WithField("component", "store")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Projector) Publish(ctx context.Context, caller string, at time.Time, events []model.Event) {
	b := p.collect(ctx, caller, at, events)
	if p.queue == nil {
		p.write(ctx, b)
		return
	}
	select {
	case p.queue <- b:
	default:
		p.log.WithField("pending", len(p.queue)).Warn("projection queue full, waiting")
		p.queue <- b
	}
}

// Run writes queued batches until ctx is done, then drains what is left.
// It returns immediately when the projector has no queue.
func (p *Projector) Run(ctx context.Context) error {
	if p.queue == nil {
		return nil
	}
	for {
		select {
		case b := <-p.queue:
			p.write(ctx, b)
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case b := <-p.queue:
					p.write(flush, b)
				default:
					return nil
				}
			}
		}
	}
}

func (p *Projector) collect(ctx context.Context, caller string, at time.Time, events []model.Event) batch {
	var b batch
	seenAgreement := make(map[uint64]bool)
	seenMandate := make(map[uint64]bool)

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.log.WithError(err).WithField("type", ev.EventType()).Error("encode event")
			continue
		}
		b.events = append(b.events, &model.EventRecord{
			ID:          uuid.New().String(),
			Type:        ev.EventType(),
			AgreementID: ev.Agreement(),
			Caller:      caller,
			Payload:     payload,
			Timestamp:   at,
		})

		if id := ev.Agreement(); !seenAgreement[id] {
			seenAgreement[id] = true
			a, err := p.source.Agreement(ctx, id)
			if err != nil {
				p.log.WithError(err).WithField("agreement", id).Error("read agreement")
			} else {
				b.agreements = append(b.agreements, a)
			}
		}

		mid, ok := mandateOf(ev)
		if !ok || seenMandate[mid] {
			continue
		}
		seenMandate[mid] = true
		m, err := p.source.Mandate(ctx, mid)
		if err != nil {
			p.log.WithError(err).WithField("mandate", mid).Error("read mandate")
			continue
		}
		b.mandates = append(b.mandates, m)
	}
	return b
}

func (p *Projector) write(ctx context.Context, b batch) {
	for _, rec := range b.events {
		if err := p.store.InsertEvent(ctx, rec); err != nil {
			p.log.WithError(err).WithField("type", rec.Type).Error("journal event")
		}
	}
	for _, a := range b.agreements {
		if err := p.store.UpsertAgreement(ctx, a); err != nil {
			p.log.WithError(err).WithField("agreement", a.ID).Error("project agreement")
		}
	}
	for _, m := range b.mandates {
		if err := p.store.UpsertMandate(ctx, m); err != nil {
			p.log.WithError(err).WithField("mandate", m.ID).Error("project mandate")
		}
	}
}

// mandateOf names the mandate an event changed, if any.
func mandateOf(ev model.Event) (uint64, bool) {
	switch e := ev.(type) {
	case model.CommitToAgreement:
		return e.MandateID, true
	case model.MandateSettled:
		return e.MandateID, true
	}
	return 0, false
}
