package scenario

import (
	"vtsched/internal/config"
	"vtsched/internal/storage"
	logx "vtsched/pkg/logx"
)

// OpenStore opens the store configured by a scenario. It returns (nil, nil)
// when the scenario has no storage block.
func OpenStore(sc *config.StorageConfig, log logx.Logger) (storage.Store, error) {
	if sc == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}, log)
}
