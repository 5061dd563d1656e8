package app

import (
	"gorm.io/gorm"

	"github.com/gong8/cramkit-sub000/internal/data/repos"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type Repos struct {
	Sessions  repos.SessionRepo
	Resources repos.ResourceRepo
	Batches   repos.IndexBatchRepo
	Jobs      repos.IndexJobRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Sessions:  repos.NewSessionRepo(db, log),
		Resources: repos.NewResourceRepo(db, log),
		Batches:   repos.NewIndexBatchRepo(db, log),
		Jobs:      repos.NewIndexJobRepo(db, log),
	}
}
