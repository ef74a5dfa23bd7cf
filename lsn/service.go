// Package lsn implements the timestamp/LSN service: a single
// monotone, strictly-increasing 64-bit sequence number shared by
// every transaction's commit stamp and by the epoch manager's
// checkpoint cookies.
package lsn

import "sync/atomic"

import "github.com/bnclabs/ssncore/api"

// Service issues monotone api.LSN values. The zero value is ready to
// use and starts at api.InvalidLSN.
type Service struct {
	counter atomic.Uint64
}

// NewService construct a timestamp/LSN service, optionally resuming
// from a previously observed high-water-mark LSN (e.g. on recovery,
// where the log subsystem hands the core the last LSN it durably
// wrote).
func NewService(resumefrom api.LSN) *Service {
	svc := &Service{}
	svc.counter.Store(uint64(resumefrom))
	return svc
}

// CurrentLSN return the most recently issued LSN without issuing a
// new one. Satisfies api.LogService.
func (svc *Service) CurrentLSN() api.LSN {
	return api.LSN(svc.counter.Load())
}

// NextCommitLSN atomically issue and return the next LSN. Strictly
// increasing even under concurrent callers. Satisfies
// api.LogService.
func (svc *Service) NextCommitLSN() api.LSN {
	return api.LSN(svc.counter.Add(1))
}

var _ api.LogService = (*Service)(nil)
