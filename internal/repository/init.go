package repository

import (
	"github.com/disqualifier/mailtime/interfaces"
	"github.com/disqualifier/mailtime/internal/logger"
)

type Repositories struct {
	CacheRepository interfaces.CacheRepository
}

func InitRepositories(cacheDir string, log logger.Logger) *Repositories {
	return &Repositories{
		CacheRepository: NewCacheRepository(cacheDir, log),
	}
}
