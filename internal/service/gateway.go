package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/device-gateway-service/config"
	"github.com/webitel/device-gateway-service/internal/adapter/device"
	"github.com/webitel/device-gateway-service/internal/adapter/mock"
	"github.com/webitel/device-gateway-service/internal/adapter/potentiostat"
	"github.com/webitel/device-gateway-service/internal/adapter/pubsub"
	"github.com/webitel/device-gateway-service/internal/domain/event"
	"github.com/webitel/device-gateway-service/internal/domain/model"
	"github.com/webitel/device-gateway-service/internal/queue"
	"github.com/webitel/device-gateway-service/internal/service/dto"
)

// Commander is the primary interface for transport handlers
// (HTTP/Websocket).
type Commander interface {
	Devices() []dto.DeviceInfo
	Stats(deviceName string) (queue.Snapshot, error)

	Submit(ctx context.Context, deviceName string, req dto.SubmitRequest) (dto.SubmitResponse, error)
	RecentCompletion(deviceName string, commandID uint64) (event.CommandPayloadV1, error)

	CancelCommand(deviceName string, commandID uint64) error
	CancelSweep(deviceName, kind string, olderThan time.Duration) (int, error)

	BeginTransaction(deviceName string, req dto.BeginTransactionRequest) (uint64, error)
	AddTransactionCommand(deviceName string, txnID uint64, req dto.TransactionCommandRequest) error
	CommitTransaction(deviceName string, txnID uint64) error
	CancelTransaction(deviceName string, txnID uint64) error

	Shutdown(ctx context.Context) error
}

// recentCompletionsSize bounds the per-device post-facto audit window.
const recentCompletionsSize = 1024

// managedDevice couples one engine manager with its driver and the
// audit cache.
type managedDevice struct {
	cfg     config.Device
	adapter device.Adapter
	manager *queue.Manager
	recent  *lru.Cache[uint64, event.CommandPayloadV1]
}

// Gateway owns every configured device. It is the only place adapters
// and managers are constructed.
type Gateway struct {
	log        *slog.Logger
	dispatcher pubsub.EventDispatcher

	mu      sync.RWMutex
	devices map[string]*managedDevice
}

var _ Commander = (*Gateway)(nil)

// NewGateway builds one manager per configured device and wires its
// completion and connection listeners into the event bus.
func NewGateway(cfg *config.Config, logger *slog.Logger, dispatcher pubsub.EventDispatcher) (*Gateway, error) {
	g := &Gateway{
		log:        logger.With("component", "gateway"),
		dispatcher: dispatcher,
		devices:    make(map[string]*managedDevice),
	}

	for _, devCfg := range cfg.Devices {
		if _, dup := g.devices[devCfg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate device %q", model.ErrInvalidParameter, devCfg.Name)
		}
		md, err := g.buildDevice(devCfg, logger)
		if err != nil {
			// Tear down what already started before bailing out.
			_ = g.Shutdown(context.Background())
			return nil, err
		}
		g.devices[devCfg.Name] = md
	}
	return g, nil
}

func (g *Gateway) buildDevice(devCfg config.Device, logger *slog.Logger) (*managedDevice, error) {
	adp, err := buildAdapter(devCfg)
	if err != nil {
		return nil, err
	}

	recent, _ := lru.New[uint64, event.CommandPayloadV1](recentCompletionsSize)
	md := &managedDevice{cfg: devCfg, adapter: adp, recent: recent}

	md.manager = queue.New(adp,
		device.ConnectOptions{Address: devCfg.Address, DialTimeout: devCfg.DialTimeout},
		queue.WithLogger(logger),
		queue.WithQueueCapacities(devCfg.Queue.HighCapacity, devCfg.Queue.NormalCapacity, devCfg.Queue.LowCapacity),
		queue.WithReconnectBackoff(devCfg.Reconnect.Base, devCfg.Reconnect.Max),
		queue.WithMaxBackoffShift(devCfg.Reconnect.MaxShift),
		queue.WithPingInterval(devCfg.Reconnect.PingInterval),
		queue.WithDefaultTimeout(devCfg.DefaultTimeout),
		queue.WithMaxTransactionCommands(devCfg.MaxTransactionCommands),
		queue.WithCompletionListener(func(comp queue.Completion) {
			payload := commandPayload(adp, comp)
			md.recent.Add(comp.ID, payload)
			g.publish(event.NewCommandCompletedV1(devCfg.Name, payload))
		}),
		queue.WithStateListener(func(state model.ConnState) {
			g.publish(event.NewConnectionStateV1(devCfg.Name, state))
		}),
	)
	return md, nil
}

func buildAdapter(d config.Device) (device.Adapter, error) {
	switch d.Driver {
	case "mock":
		return mock.New(d.Name), nil
	case "potentiostat":
		return potentiostat.New(d.Name), nil
	default:
		return nil, fmt.Errorf("%w: unknown device driver %q", model.ErrInvalidParameter, d.Driver)
	}
}

func (g *Gateway) publish(ev event.Eventer) {
	if err := g.dispatcher.Publish(context.Background(), ev); err != nil {
		g.log.Warn("event publish failed",
			"topic", ev.GetRoutingKey(),
			"error", err)
	}
}

func (g *Gateway) device(name string) (*managedDevice, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	md, ok := g.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: device %q", model.ErrNotFound, name)
	}
	return md, nil
}

// Devices lists every managed device with its connection state.
func (g *Gateway) Devices() []dto.DeviceInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]dto.DeviceInfo, 0, len(g.devices))
	for _, md := range g.devices {
		snap := md.manager.Stats()
		out = append(out, dto.DeviceInfo{
			Name:      md.cfg.Name,
			Driver:    md.cfg.Driver,
			Address:   md.cfg.Address,
			State:     md.manager.State().String(),
			Processed: snap.TotalProcessed,
			Errors:    snap.TotalErrors,
		})
	}
	return out
}

func (g *Gateway) Stats(deviceName string) (queue.Snapshot, error) {
	md, err := g.device(deviceName)
	if err != nil {
		return queue.Snapshot{}, err
	}
	return md.manager.Stats(), nil
}

// Submit routes one command submission, blocking when the request asks
// for it.
func (g *Gateway) Submit(ctx context.Context, deviceName string, req dto.SubmitRequest) (dto.SubmitResponse, error) {
	md, err := g.device(deviceName)
	if err != nil {
		return dto.SubmitResponse{}, err
	}

	kind, params, err := decodeCommand(md.adapter, req.Kind, req.Params)
	if err != nil {
		return dto.SubmitResponse{}, err
	}
	prio, err := model.ParsePriority(req.Priority)
	if err != nil {
		return dto.SubmitResponse{}, err
	}

	if req.WaitMS <= 0 {
		id, err := md.manager.SubmitAsync(kind, params, prio, nil)
		if err != nil {
			return dto.SubmitResponse{}, err
		}
		return dto.SubmitResponse{CommandID: id}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(req.WaitMS)*time.Millisecond)
	defer cancel()

	comp, err := md.manager.SubmitWait(waitCtx, kind, params, prio)
	if err != nil && comp.ID == 0 {
		// Rejected or timed out before any completion materialized.
		return dto.SubmitResponse{}, err
	}

	resp := dto.SubmitResponse{
		CommandID: comp.ID,
		Status:    comp.Status.String(),
		Result:    comp.Result,
	}
	if comp.Err != nil {
		resp.Error = comp.Err.Error()
	}
	return resp, nil
}

// RecentCompletion serves the post-facto audit window.
func (g *Gateway) RecentCompletion(deviceName string, commandID uint64) (event.CommandPayloadV1, error) {
	md, err := g.device(deviceName)
	if err != nil {
		return event.CommandPayloadV1{}, err
	}
	payload, ok := md.recent.Get(commandID)
	if !ok {
		return event.CommandPayloadV1{}, fmt.Errorf("%w: command %d", model.ErrNotFound, commandID)
	}
	return payload, nil
}

func (g *Gateway) CancelCommand(deviceName string, commandID uint64) error {
	md, err := g.device(deviceName)
	if err != nil {
		return err
	}
	return md.manager.CancelCommand(commandID)
}

// CancelSweep cancels queued commands in bulk: by kind, by age, or all
// of them when neither filter is set.
func (g *Gateway) CancelSweep(deviceName, kind string, olderThan time.Duration) (int, error) {
	md, err := g.device(deviceName)
	if err != nil {
		return 0, err
	}
	switch {
	case kind != "":
		k, ok := device.KindByName(md.adapter, kind)
		if !ok {
			return 0, fmt.Errorf("%w: kind %q", model.ErrInvalidParameter, kind)
		}
		return md.manager.CancelKind(k), nil
	case olderThan > 0:
		return md.manager.CancelOlderThan(olderThan), nil
	default:
		return md.manager.CancelAll(), nil
	}
}

func (g *Gateway) BeginTransaction(deviceName string, req dto.BeginTransactionRequest) (uint64, error) {
	md, err := g.device(deviceName)
	if err != nil {
		return 0, err
	}
	prio, err := model.ParsePriority(req.Priority)
	if err != nil {
		return 0, err
	}

	opts := []queue.TxnOption{queue.WithTxnPriority(prio)}
	if req.AbortOnError {
		opts = append(opts, queue.WithAbortOnError())
	}
	if req.TimeoutMS > 0 {
		opts = append(opts, queue.WithTxnTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}
	return md.manager.Begin(opts...)
}

func (g *Gateway) AddTransactionCommand(deviceName string, txnID uint64, req dto.TransactionCommandRequest) error {
	md, err := g.device(deviceName)
	if err != nil {
		return err
	}
	kind, params, err := decodeCommand(md.adapter, req.Kind, req.Params)
	if err != nil {
		return err
	}
	return md.manager.AddToTransaction(txnID, kind, params)
}

func (g *Gateway) CommitTransaction(deviceName string, txnID uint64) error {
	md, err := g.device(deviceName)
	if err != nil {
		return err
	}
	return md.manager.Commit(txnID, func(res queue.TransactionResult) {
		payload := event.TransactionPayloadV1{
			TransactionID:  res.ID,
			TransactionUID: res.UID,
			SuccessCount:   res.SuccessCount,
			FailureCount:   res.FailureCount,
			Commands:       make([]event.CommandPayloadV1, 0, len(res.Completions)),
		}
		for _, comp := range res.Completions {
			payload.Commands = append(payload.Commands, commandPayload(md.adapter, comp))
		}
		g.publish(event.NewTransactionCompletedV1(deviceName, payload))
	})
}

func (g *Gateway) CancelTransaction(deviceName string, txnID uint64) error {
	md, err := g.device(deviceName)
	if err != nil {
		return err
	}
	return md.manager.CancelTransaction(txnID)
}

// Shutdown closes every manager concurrently and waits for all of
// them.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	devices := g.devices
	g.devices = make(map[string]*managedDevice)
	g.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)
	for _, md := range devices {
		eg.Go(func() error { return md.manager.Close(ctx) })
	}
	return eg.Wait()
}

// decodeCommand resolves a kind name and builds its typed params.
func decodeCommand(adp device.Adapter, kindName string, raw []byte) (device.Kind, device.Params, error) {
	kind, ok := device.KindByName(adp, kindName)
	if !ok {
		return 0, nil, fmt.Errorf("%w: kind %q", model.ErrInvalidParameter, kindName)
	}
	if len(raw) == 0 {
		return kind, nil, nil
	}
	dec, ok := adp.(device.ParamsDecoder)
	if !ok {
		return 0, nil, fmt.Errorf("%w: driver %s cannot decode wire params", model.ErrInvalidParameter, adp.Name())
	}
	params, err := dec.DecodeParams(kind, raw)
	if err != nil {
		return 0, nil, err
	}
	return kind, params, nil
}

// commandPayload converts an engine completion to its wire form.
func commandPayload(adp device.Adapter, comp queue.Completion) event.CommandPayloadV1 {
	payload := event.CommandPayloadV1{
		CommandID:       comp.ID,
		Kind:            adp.KindName(comp.Kind),
		Priority:        comp.Priority.String(),
		Status:          comp.Status.String(),
		CancelRequested: comp.CancelRequested,
		TransactionID:   comp.TransactionID,
		Result:          comp.Result,
		SubmittedAt:     comp.SubmittedAt.UnixMilli(),
		FinishedAt:      comp.FinishedAt.UnixMilli(),
	}
	if comp.Err != nil {
		payload.Error = comp.Err.Error()
	}
	return payload
}
