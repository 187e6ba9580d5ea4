package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/device-gateway-service/internal/domain/event"
	"github.com/webitel/device-gateway-service/internal/queue"
	"github.com/webitel/device-gateway-service/internal/service/dto"
)

// commanderMiddleware decorates [Commander] with request logging, so
// transport handlers stay free of cross-cutting concerns.
type commanderMiddleware struct {
	next   Commander
	logger *slog.Logger
}

func (m *commanderMiddleware) Devices() []dto.DeviceInfo { return m.next.Devices() }

func (m *commanderMiddleware) Stats(deviceName string) (queue.Snapshot, error) {
	return m.next.Stats(deviceName)
}

func (m *commanderMiddleware) Submit(ctx context.Context, deviceName string, req dto.SubmitRequest) (dto.SubmitResponse, error) {
	start := time.Now()
	resp, err := m.next.Submit(ctx, deviceName, req)
	if err != nil {
		m.logger.Warn("submit rejected",
			"device", deviceName,
			"kind", req.Kind,
			"error", err)
		return resp, err
	}
	m.logger.Debug("submit accepted",
		"device", deviceName,
		"kind", req.Kind,
		"command_id", resp.CommandID,
		"blocking", req.WaitMS > 0,
		"took", time.Since(start))
	return resp, nil
}

func (m *commanderMiddleware) RecentCompletion(deviceName string, commandID uint64) (event.CommandPayloadV1, error) {
	return m.next.RecentCompletion(deviceName, commandID)
}

func (m *commanderMiddleware) CancelCommand(deviceName string, commandID uint64) error {
	err := m.next.CancelCommand(deviceName, commandID)
	m.logger.Debug("cancel command",
		"device", deviceName,
		"command_id", commandID,
		"error", err)
	return err
}

func (m *commanderMiddleware) CancelSweep(deviceName, kind string, olderThan time.Duration) (int, error) {
	n, err := m.next.CancelSweep(deviceName, kind, olderThan)
	if err == nil {
		m.logger.Info("cancel sweep",
			"device", deviceName,
			"kind", kind,
			"older_than", olderThan,
			"cancelled", n)
	}
	return n, err
}

func (m *commanderMiddleware) BeginTransaction(deviceName string, req dto.BeginTransactionRequest) (uint64, error) {
	return m.next.BeginTransaction(deviceName, req)
}

func (m *commanderMiddleware) AddTransactionCommand(deviceName string, txnID uint64, req dto.TransactionCommandRequest) error {
	return m.next.AddTransactionCommand(deviceName, txnID, req)
}

func (m *commanderMiddleware) CommitTransaction(deviceName string, txnID uint64) error {
	err := m.next.CommitTransaction(deviceName, txnID)
	m.logger.Info("transaction committed",
		"device", deviceName,
		"transaction_id", txnID,
		"error", err)
	return err
}

func (m *commanderMiddleware) CancelTransaction(deviceName string, txnID uint64) error {
	return m.next.CancelTransaction(deviceName, txnID)
}

func (m *commanderMiddleware) Shutdown(ctx context.Context) error {
	return m.next.Shutdown(ctx)
}
