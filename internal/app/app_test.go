package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/oauth2"

	"github.com/adapt/offsite/internal/adapter/storage"
	"github.com/adapt/offsite/internal/config"
	"github.com/adapt/offsite/internal/domain"
	"github.com/adapt/offsite/internal/infrastructure/logger"
)

func TestObjectStoreSelection(t *testing.T) {
	Convey("Given storage settings", t, func() {
		tempDir, err := os.MkdirTemp("", "app_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(tempDir)

		cfg := &config.Config{}
		creds := &config.Credentials{Container: "site"}
		ctx := context.Background()

		Convey("The local backend stores under its path", func() {
			cfg.Storage.Type = config.StorageLocal
			cfg.Storage.Local.Path = filepath.Join(tempDir, "store")

			store, err := newObjectStore(ctx, cfg, creds)
			So(err, ShouldBeNil)
			_, ok := store.(*storage.LocalStorage)
			So(ok, ShouldBeTrue)
		})

		Convey("Azure needs an endpoint and a SAS", func() {
			cfg.Storage.Type = config.StorageAzure

			_, err := newObjectStore(ctx, cfg, creds)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, config.EnvEndpoint)

			creds.Endpoint = "https://acct.blob.core.windows.net"
			creds.SAS = domain.NewSecret("sv=2020&sig=abc")
			store, err := newObjectStore(ctx, cfg, creds)
			So(err, ShouldBeNil)
			_, ok := store.(*storage.AzureStorage)
			So(ok, ShouldBeTrue)
		})

		Convey("Unknown backends are rejected", func() {
			cfg.Storage.Type = "ftp"
			_, err := newObjectStore(ctx, cfg, creds)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSchemaOnlyPolicy(t *testing.T) {
	Convey("Given schema-only settings", t, func() {
		a := &App{config: &config.Config{}}

		Convey("No tables and no defaults means no schema-only dump", func() {
			So(a.schemaOnlyPolicy().Empty(), ShouldBeTrue)
		})

		Convey("Drupal defaults are merged with extra tables", func() {
			a.config.Backup.SchemaOnly = config.SchemaOnlyConfig{
				Tables:         []string{"ultimate_cron_log", "cache_page"},
				DrupalDefaults: true,
			}
			tables := a.schemaOnlyPolicy().Tables()
			So(tables, ShouldContain, "cache_render")
			So(tables, ShouldContain, "ultimate_cron_log")
			So(len(tables), ShouldEqual, len(domain.DrupalCacheTables)+1)
		})
	})
}

type stubNotifier struct{ id int }

func (*stubNotifier) Notify(context.Context, *domain.Report) error { return nil }

func TestRunNotifier(t *testing.T) {
	Convey("Given an app with Telegram settings", t, func() {
		calls := 0
		a := &App{config: &config.Config{}, logger: logger.Nop()}
		a.config.App.Name = "offsite"
		a.config.Notify.Telegram.BotToken = "token"
		a.config.Notify.Telegram.ChatID = 42

		Convey("The notifier is created once and shared by later runs", func() {
			a.config.Notify.Telegram.Enabled = true
			a.newNotifier = func(token string, chatID int64, appName string) (domain.Notifier, error) {
				calls++
				So(token, ShouldEqual, "token")
				So(chatID, ShouldEqual, int64(42))
				return &stubNotifier{id: calls}, nil
			}

			So(a.runNotifier(), ShouldNotBeNil)
			So(a.runNotifier().(*stubNotifier).id, ShouldEqual, 1)
			So(calls, ShouldEqual, 1)
		})

		Convey("A notifier that cannot be created is not retried", func() {
			a.config.Notify.Telegram.Enabled = true
			a.newNotifier = func(string, int64, string) (domain.Notifier, error) {
				calls++
				return nil, errors.New("unauthorized")
			}

			So(a.runNotifier(), ShouldBeNil)
			So(a.runNotifier(), ShouldBeNil)
			So(calls, ShouldEqual, 1)
		})

		Convey("Disabled notifications never create a bot", func() {
			a.newNotifier = func(string, int64, string) (domain.Notifier, error) {
				calls++
				return &stubNotifier{}, nil
			}

			So(a.runNotifier(), ShouldBeNil)
			So(calls, ShouldEqual, 0)
		})
	})
}

func TestGDriveAuthHandler(t *testing.T) {
	Convey("Given the Google Drive auth flow", t, func() {
		auth := newGDriveAuth(logger.Nop(), &oauth2.Config{
			ClientID: "client",
			Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example.com/auth", TokenURL: "https://accounts.example.com/token"},
		})
		server := httptest.NewServer(auth.handler())
		defer server.Close()

		client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}}

		Convey("The root redirects to the consent screen with offline access", func() {
			resp, err := client.Get(server.URL + "/")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusTemporaryRedirect)
			location := resp.Header.Get("Location")
			So(location, ShouldStartWith, "https://accounts.example.com/auth")
			So(location, ShouldContainSubstring, "access_type=offline")
			So(location, ShouldContainSubstring, "state="+auth.state)
		})

		Convey("A callback with the wrong state is rejected", func() {
			resp, err := client.Get(server.URL + "/callback?state=forged&code=x")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A callback without a code is rejected", func() {
			resp, err := client.Get(server.URL + "/callback?state=" + auth.state)
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})
}
