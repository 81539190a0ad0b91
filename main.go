package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("memoria"),
		kong.Description("Build a printable photo album: standardize photos, arrange pages, generate a cover."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(); err != nil {
		return err
	}

	return nil
}

type cliArgs struct {
	Serve       serveCmd       `cmd:"" default:"withargs" help:"Run the album wizard in the browser"`
	Standardize standardizeCmd `cmd:"" help:"Crop every photo of a directory to 3:4 or 4:3"`
	Crop        cropCmd        `cmd:"" help:"Crop a single photo to a ratio and offset"`
}

type logFlags struct {
	Verbose bool `help:"Enable verbose logging" default:"false"`
}

// context sets up the console logger and returns a context carrying it that
// is cancelled on interrupt.
func (f logFlags) context() (context.Context, context.CancelFunc) {
	level := zerolog.InfoLevel
	if f.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return log.Logger.WithContext(ctx), cancel
}

// Session holds the in-memory state of one album wizard run.
type Session struct {
	Blobs        *BlobStore
	Photos       *PhotoStore
	Loader       *Loader
	Standardizer *Standardizer
	Album        *AlbumEditor
	Covers       CoverGenerator
	Refiner      TextRefiner
}

func NewSession(rootDir string, workers int, client *http.Client) *Session {
	blobs := NewBlobStore()
	photos := NewPhotoStore()
	loader := &Loader{Blobs: blobs, RootDir: rootDir, Client: client}
	return &Session{
		Blobs:  blobs,
		Photos: photos,
		Loader: loader,
		Standardizer: &Standardizer{
			Photos:     photos,
			Blobs:      blobs,
			Loader:     loader,
			Cropper:    NewImagingCropper(),
			MaxWorkers: workers,
		},
		Album: NewAlbumEditor(time.Now()),
	}
}

type serveCmd struct {
	logFlags `embed:""`
	RootDir      string        `arg:"" optional:"" type:"existingdir" help:"Directory of photos to import on start"`
	Addr         string        `help:"Address to listen on" default:"localhost:0" env:"MEMORIA_ADDR"`
	Open         bool          `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	GeminiAPIKey string        `help:"Gemini API key used for cover art and anecdote refinement" env:"GEMINI_API_KEY"`
	Workers      int           `help:"Maximum number of photos cropped at once (0 = number of CPUs)" env:"MEMORIA_WORKERS"`
	FetchTimeout time.Duration `help:"Timeout for fetching remote images (0 = none)" default:"0s" env:"MEMORIA_FETCH_TIMEOUT"`
}

func (cmd *serveCmd) Run() error {
	ctx, cancel := cmd.context()
	defer cancel()

	session := NewSession(cmd.RootDir, cmd.Workers, &http.Client{Timeout: cmd.FetchTimeout})
	if cmd.RootDir != "" {
		if _, err := importDirectory(ctx, cmd.RootDir, session.Photos); err != nil {
			return err
		}
	}

	if cmd.GeminiAPIKey != "" {
		gemini, err := NewGeminiClient(ctx, cmd.GeminiAPIKey)
		if err != nil {
			return err
		}
		session.Covers = gemini
		session.Refiner = gemini
	} else {
		log.Ctx(ctx).Warn().Msg("GEMINI_API_KEY is not set, cover generation and text refinement are disabled")
	}

	app := NewWebApp(Config{
		Addr: cmd.Addr,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
	}, session)

	return app.Run(ctx)
}

type standardizeCmd struct {
	logFlags `embed:""`
	RootDir   string `arg:"" type:"existingdir" help:"Directory of photos to standardize"`
	OutputDir string `help:"Where cropped photos are written (default: <dir>/output)" type:"path"`
	JSON      bool   `help:"Output planned crops in JSON format without executing"`
	Workers   int    `help:"Maximum number of photos cropped at once (0 = number of CPUs)" env:"MEMORIA_WORKERS"`
}

type plannedCrop struct {
	Filename string `json:"filename"`
	Crop     Rect   `json:"crop"`
}

func (cmd *standardizeCmd) Run() error {
	ctx, cancel := cmd.context()
	defer cancel()

	outputDir := cmd.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(cmd.RootDir, "output")
	}

	session := NewSession(cmd.RootDir, cmd.Workers, nil)
	if _, err := importDirectory(ctx, cmd.RootDir, session.Photos, outputDir); err != nil {
		return err
	}

	if cmd.JSON {
		var plans []plannedCrop
		for _, p := range session.Photos.List() {
			info, err := session.Loader.Dimensions(ctx, p.OriginalURL)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Str("filename", p.Filename).Msg("skipping photo")
				continue
			}
			rect, err := AutoCrop(info.Width, info.Height)
			if err != nil {
				return err
			}
			plans = append(plans, plannedCrop{Filename: p.OriginalURL, Crop: rect})
		}
		printJSONL(plans)
		return nil
	}

	report, runErr := session.Standardizer.Standardize(ctx)
	var batchErr *BatchError
	if runErr != nil && !errors.As(runErr, &batchErr) {
		return runErr
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	for _, res := range report.Updated {
		photo, _ := session.Photos.Get(res.PhotoID)
		name := strings.TrimSuffix(filepath.Base(photo.OriginalURL), filepath.Ext(photo.OriginalURL))
		dest := filepath.Join(outputDir, fmt.Sprintf("%s-%s.jpg", name, res.Rect.ID()))
		if err := writeBlob(session.Blobs, res.URL, dest); err != nil {
			return err
		}
		log.Ctx(ctx).Debug().Str("filename", photo.OriginalURL).Str("output", dest).Msg("written")
	}

	return runErr
}

type cropCmd struct {
	logFlags `embed:""`
	File    string  `arg:"" type:"existingfile" help:"Photo to crop"`
	Ratio   string  `help:"Target ratio: 3:4, 1:1, 4:3 or auto (by orientation)" default:"auto"`
	OffsetX float64 `help:"Horizontal position of the crop within the slack, 0-100" default:"50"`
	OffsetY float64 `help:"Vertical position of the crop within the slack, 0-100" default:"50"`
	Output  string  `short:"o" help:"Output file (default: <name>-<ratio>.jpg next to the photo)" type:"path"`
}

func (cmd *cropCmd) Run() error {
	ctx, cancel := cmd.context()
	defer cancel()

	dir, name := filepath.Split(cmd.File)
	if dir == "" {
		dir = "."
	}
	session := NewSession(dir, 1, nil)
	photo := NewPhoto(name, name)
	if err := session.Photos.Append(photo); err != nil {
		return err
	}

	var ratio float64
	if cmd.Ratio == "auto" {
		info, err := session.Loader.Dimensions(ctx, photo.OriginalURL)
		if err != nil {
			return err
		}
		ratio = DefaultRatio(info.Width, info.Height)
	} else {
		var err error
		if ratio, err = ParseRatio(cmd.Ratio); err != nil {
			return err
		}
	}

	cropped, err := session.Standardizer.CropOne(ctx, ManualCropRequest{
		PhotoID: photo.ID,
		Ratio:   ratio,
		OffsetX: cmd.OffsetX,
		OffsetY: cmd.OffsetY,
	})
	if err != nil {
		return err
	}

	output := cmd.Output
	if output == "" {
		r, _ := LookupRatio(ratio)
		label := strings.ReplaceAll(r.Label, ":", "x")
		output = filepath.Join(dir, fmt.Sprintf("%s-%s.jpg", strings.TrimSuffix(name, filepath.Ext(name)), label))
	}
	if err := writeBlob(session.Blobs, cropped.URL, output); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("output", output).Msg("photo cropped")
	return nil
}

func writeBlob(blobs *BlobStore, ref, destPath string) error {
	b, ok := blobs.Get(ref)
	if !ok {
		return fmt.Errorf("blob %s not found", ref)
	}
	if err := os.WriteFile(destPath, b.Data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	return nil
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
