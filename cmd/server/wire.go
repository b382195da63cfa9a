// File: cmd/server/wire.go
//go:build wireinject
// +build wireinject

package main

import (
	"kopiclub_backend/internal/app"
	"kopiclub_backend/internal/config"
	"kopiclub_backend/internal/filestorage"
	"kopiclub_backend/internal/firebase"
	"kopiclub_backend/internal/jobs"
	"kopiclub_backend/internal/platform/logger"
	"kopiclub_backend/internal/profile"
	"kopiclub_backend/internal/session"
	"kopiclub_backend/internal/upload"

	"github.com/google/wire"
)

// initializeServer is the main Wire injector.
func initializeServer(cfg *config.Config) (*app.Server, func(), error) {
	wire.Build(
		// Platform Layer
		logger.New,
		provideDB,
		firebase.NewService,

		// Session / Storage / Upload
		session.NewFirebaseProvider,
		wire.Bind(new(session.Provider), new(*session.FirebaseProvider)),
		profile.NewFirestoreStore,
		upload.NewGCSUploader,
		wire.Bind(new(upload.Uploader), new(*upload.GCSUploader)),
		provideStagingService,
		wire.Bind(new(profile.ImageStager), new(*filestorage.StagingService)),

		// Points Journal
		provideJournal,

		// Core
		profile.NewManager,
		profile.NewHandler,
		jobs.NewSessionSweeperJob,

		// Application Layer
		app.NewServer,
	)
	return nil, nil, nil
}
