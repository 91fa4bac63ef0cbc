package main

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randFloat() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// AckStrategy decides how a station answers a command. ok is false when the
// reply is dropped.
type AckStrategy interface {
	Ack(ctx context.Context) (status types.RemoteStartStopStatus, ok bool)
}

// AutoAck accepts every command after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context) (types.RemoteStartStopStatus, bool) {
	if !wait(ctx, a.Delay) {
		return "", false
	}
	return types.RemoteStartStopStatusAccepted, true
}

// RandomAck drops replies with DropRate probability and rejects commands
// with RejectRate probability, after waiting Delay.
type RandomAck struct {
	Delay      time.Duration
	DropRate   float64
	RejectRate float64
}

// Ack implements AckStrategy.
func (r RandomAck) Ack(ctx context.Context) (types.RemoteStartStopStatus, bool) {
	if r.DropRate > 0 && randFloat() < r.DropRate {
		return "", false
	}
	if !wait(ctx, r.Delay) {
		return "", false
	}
	if r.RejectRate > 0 && randFloat() < r.RejectRate {
		return types.RemoteStartStopStatusRejected, true
	}
	return types.RemoteStartStopStatusAccepted, true
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
