package main

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

const maxUploadBytes = 256 << 20

type Config struct {
	Addr             string
	OnBeforeShutdown func()
	OnReady          func(addr string)
}

type WebApp struct {
	config       Config
	session      *Session
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config, session *Session) *WebApp {
	return &WebApp{
		config:     config,
		session:    session,
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		fiberErr    *fiber.Error
		loadErr     *LoadError
		renderErr   *RenderError
		geometryErr *GeometryError
	)
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, ErrPhotoNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBulkInProgress), errors.Is(err, ErrCropInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrNoPhotos):
		return http.StatusBadRequest
	case errors.Is(err, ErrAIUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &loadErr), errors.As(err, &renderErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &geometryErr):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func (a *WebApp) newServer(ctx context.Context) *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             maxUploadBytes,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := statusFor(err)
			if code == http.StatusNotFound && c.Path() == "/favicon.ico" {
				return nil
			}
			event := log.Ctx(c.UserContext()).Warn()
			if code >= http.StatusInternalServerError {
				event = log.Ctx(c.UserContext()).Error()
			}
			event.Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Msg("Request failed")

			msg := err.Error()
			if code == http.StatusInternalServerError {
				msg = "Internal Server Error"
			}
			return c.Status(code).JSON(fiber.Map{"error": msg})
		},
	})

	webapp.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(log.Ctx(ctx).WithContext(c.UserContext()))
		return c.Next()
	})

	s := a.session

	if root := s.Loader.RootDir; root != "" {
		filesRoot := http.Dir(root)
		webapp.Get("/api/view", func(c *fiber.Ctx) error {
			return filesystem.SendFile(c, filesRoot, c.Query("file"))
		})
	}

	webapp.Get("/api/blobs/:id", func(c *fiber.Ctx) error {
		b, ok := s.Blobs.Get(c.Params("id"))
		if !ok {
			return fiber.ErrNotFound
		}
		c.Set(fiber.HeaderContentType, b.MIMEType)
		c.Set(fiber.HeaderCacheControl, "private, max-age=31536000, immutable")
		return c.Send(b.Data)
	})

	webapp.Get("/api/themes", func(c *fiber.Ctx) error {
		return c.JSON(Themes)
	})
	webapp.Get("/api/ratios", func(c *fiber.Ctx) error {
		return c.JSON(ManualRatios)
	})

	webapp.Get("/api/album", func(c *fiber.Ctx) error {
		return c.JSON(s.Album.Snapshot())
	})
	webapp.Put("/api/album", func(c *fiber.Ctx) error {
		var request struct {
			Title      string `json:"title"`
			ThemeColor string `json:"theme_color"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if err := s.Album.SetDetails(request.Title, request.ThemeColor); err != nil {
			return err
		}
		return c.JSON(s.Album.Snapshot())
	})

	webapp.Get("/api/photos", func(c *fiber.Ctx) error {
		return c.JSON(a.photoViews(s.Photos.List()))
	})
	webapp.Post("/api/photos", a.handleUpload)
	webapp.Put("/api/photos/:id/caption", func(c *fiber.Ctx) error {
		var request struct {
			Caption string `json:"caption"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if err := s.Photos.SetCaption(c.Params("id"), request.Caption); err != nil {
			return err
		}
		return c.SendStatus(http.StatusNoContent)
	})

	webapp.Post("/api/photos/:id/crop/preview", func(c *fiber.Ctx) error {
		req, err := parseCropRequest(c)
		if err != nil {
			return err
		}
		rect, err := s.Standardizer.PreviewCrop(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.JSON(rect)
	})
	webapp.Post("/api/photos/:id/crop", func(c *fiber.Ctx) error {
		req, err := parseCropRequest(c)
		if err != nil {
			return err
		}
		photo, err := s.Standardizer.CropOne(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.JSON(a.photoView(photo))
	})

	webapp.Get("/api/standardize", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"running": s.Standardizer.Running()})
	})
	webapp.Post("/api/standardize", func(c *fiber.Ctx) error {
		report, err := s.Standardizer.Standardize(c.UserContext())
		var batchErr *BatchError
		if err != nil && !errors.As(err, &batchErr) {
			return err
		}
		return c.JSON(report)
	})
	webapp.Post("/api/standardize/complete", func(c *fiber.Ctx) error {
		refs, err := s.Standardizer.Complete(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(s.Album.BuildPages(refs))
	})

	webapp.Put("/api/pages/:id/anecdote", func(c *fiber.Ctx) error {
		var request struct {
			Anecdote string `json:"anecdote"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if err := s.Album.SetAnecdote(c.Params("id"), request.Anecdote); err != nil {
			return err
		}
		return c.SendStatus(http.StatusNoContent)
	})
	webapp.Post("/api/pages/:id/refine", func(c *fiber.Ctx) error {
		if s.Refiner == nil {
			return ErrAIUnavailable
		}
		page, ok := s.Album.Page(c.Params("id"))
		if !ok {
			return fiber.ErrNotFound
		}
		if page.Anecdote == "" {
			return c.JSON(page)
		}
		refined := s.Refiner.Refine(c.UserContext(), page.Anecdote)
		if err := s.Album.SetAnecdote(page.ID, refined); err != nil {
			return err
		}
		page.Anecdote = refined
		return c.JSON(page)
	})

	webapp.Post("/api/cover", func(c *fiber.Ctx) error {
		if s.Covers == nil {
			return ErrAIUnavailable
		}
		album := s.Album.Snapshot()
		if album.Title == "" {
			return fmt.Errorf("%w: set a title before generating a cover", ErrInvalidRequest)
		}
		data, mimeType, err := s.Covers.GenerateCover(c.UserContext(), album.Title, themeDescriptor(album.ThemeColor))
		if err != nil {
			log.Ctx(c.UserContext()).Error().Err(err).Msg("Error generating cover")
			return fiber.NewError(http.StatusBadGateway, "Error generating cover. Please try again.")
		}
		if data == nil {
			return fiber.NewError(http.StatusBadGateway, "The model returned no image. Please try again.")
		}
		s.Album.SetCover(s.Blobs.Put(data, mimeType))
		return c.JSON(s.Album.Snapshot())
	})

	webapp.Get("/api/preview", func(c *fiber.Ctx) error {
		return c.JSON(s.Album.Preview(a.viewURL))
	})
	webapp.Get("/api/preview.yaml", func(c *fiber.Ctx) error {
		var b bytes.Buffer
		if err := s.Album.Preview(a.viewURL).WriteYAML(&b); err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "application/yaml")
		return c.Send(b.Bytes())
	})

	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return nil
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}

	return webapp
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.newServer(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	addr := a.config.Addr
	if addr == "" {
		// Let the OS assign a random available port
		addr = "localhost:0"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (a *WebApp) handleUpload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return fiber.NewError(http.StatusBadRequest, "no files uploaded")
	}

	batch := make([]Photo, 0, len(headers))
	for _, fh := range headers {
		data, err := readUpload(fh)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("failed to read %s: %v", fh.Filename, err))
		}
		info, err := probeImage(bytes.NewReader(data))
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("%s is not a supported image", fh.Filename))
		}

		ref := a.session.Blobs.Put(data, http.DetectContentType(data))
		p := NewPhoto(ref, fh.Filename)
		p.Width, p.Height = info.Width, info.Height
		batch = append(batch, p)
	}

	if err := a.session.Photos.Append(batch...); err != nil {
		return err
	}
	log.Ctx(c.UserContext()).Info().Int("count", len(batch)).Msg("photos uploaded")
	return c.Status(http.StatusCreated).JSON(a.photoViews(batch))
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func parseCropRequest(c *fiber.Ctx) (ManualCropRequest, error) {
	var req ManualCropRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	req.PhotoID = c.Params("id")
	return req, nil
}

type photoView struct {
	Photo
	Status  PhotoStatus `json:"status"`
	ViewURL string      `json:"view_url"`
}

func (a *WebApp) photoView(p Photo) photoView {
	return photoView{Photo: p, Status: p.Status(), ViewURL: a.viewURL(p.URL)}
}

func (a *WebApp) photoViews(photos []Photo) []photoView {
	views := make([]photoView, 0, len(photos))
	for _, p := range photos {
		views = append(views, a.photoView(p))
	}
	return views
}

// viewURL maps an image reference to an address the browser can load.
func (a *WebApp) viewURL(ref string) string {
	switch {
	case isBlobRef(ref):
		return "/api/blobs/" + strings.TrimPrefix(ref, blobScheme)
	case strings.HasPrefix(ref, "data:"), strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	default:
		return "/api/view?file=" + url.QueryEscape(ref)
	}
}
