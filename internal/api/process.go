package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/dunamismax/pixelfx/internal/domain"
	"github.com/dunamismax/pixelfx/internal/effect"
	"github.com/dunamismax/pixelfx/internal/pipeline"
	"github.com/dunamismax/pixelfx/internal/pixel"
)

const (
	HeaderEffect = "X-Pixelfx-Effect"
	HeaderWidth  = "X-Pixelfx-Width"
	HeaderHeight = "X-Pixelfx-Height"

	multipartField = "image"
	// multipartSlack covers boundaries and part headers around the image.
	multipartSlack = 64 << 10
)

type effectsResponse struct {
	Effects         []effect.Info `json:"effects"`
	DefaultStrength int           `json:"default_strength"`
	MinStrength     int           `json:"min_strength"`
	MaxStrength     int           `json:"max_strength"`
}

func (s *Server) handleListEffects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, effectsResponse{
		Effects:         effect.Catalog(),
		DefaultStrength: effect.DefaultStrength,
		MinStrength:     effect.MinStrength,
		MaxStrength:     effect.MaxStrength,
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	log := s.requestLogger(r)
	start := time.Now()
	label, outcome, inputSize := "unknown", "ok", 0
	defer func() {
		s.metrics.observeEffect(label, outcome, inputSize, time.Since(start))
	}()

	reject := func(err error) int {
		status := writeClassified(w, err)
		_, outcome = classify(err)
		return status
	}

	effectName := strings.TrimSpace(r.URL.Query().Get("effect"))
	if effectName == "" {
		outcome = codeUnknownEffect
		writeError(w, http.StatusBadRequest, codeUnknownEffect, "effect query parameter is required")
		return
	}
	kind, err := effect.ParseKind(effectName)
	if err != nil {
		reject(err)
		return
	}
	label = kind.String()

	strength, err := parseStrength(r.URL.Query().Get("strength"))
	if err != nil {
		reject(err)
		return
	}

	data, mimeHint, err := s.readImage(w, r)
	if err != nil {
		status := reject(err)
		log.WithError(err).WithField("status", status).Info("rejected upload")
		return
	}
	inputSize = len(data)

	out, err := s.engine.ProcessRequest(r.Context(), pipeline.EffectRequest{
		Data:     data,
		MimeHint: mimeHint,
		Effect:   effectName,
		Strength: strength,
	})
	if err != nil {
		status := reject(err)
		entry := log.WithError(err).WithFields(logrus.Fields{"effect": label, "strength": strength})
		if status >= http.StatusInternalServerError {
			entry.Error("process failed")
		} else {
			entry.Info("process rejected")
		}
		return
	}

	name := pipeline.ExportFilename(s.exportPrefix, out.Kind, out.Format, s.now())
	h := w.Header()
	h.Set("Content-Type", pixel.ContentType(out.Format))
	h.Set("Content-Length", strconv.Itoa(len(out.Data)))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	h.Set(HeaderEffect, out.Kind.String())
	h.Set(HeaderWidth, strconv.Itoa(out.Width))
	h.Set(HeaderHeight, strconv.Itoa(out.Height))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Data); err != nil {
		log.WithError(err).Warn("write response failed")
		return
	}

	log.WithFields(logrus.Fields{
		"effect":   label,
		"strength": strength,
		"input":    humanize.Bytes(uint64(len(data))),
		"output":   humanize.Bytes(uint64(len(out.Data))),
		"size":     fmt.Sprintf("%dx%d", out.Width, out.Height),
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Debug("processed image")
}

func parseStrength(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return effect.DefaultStrength, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", domain.ErrInvalidStrength, raw)
	}
	if err := effect.ValidateStrength(v); err != nil {
		return 0, err
	}
	return v, nil
}

// readImage returns the upload bytes and the media type the client declared
// for them, from either a raw body or a multipart "image" field.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxInputBytes+multipartSlack)
		return s.readMultipartImage(r)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxInputBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty request body", domain.ErrDecode)
	}
	return data, contentType, nil
}

func (s *Server) readMultipartImage(r *http.Request) ([]byte, string, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", fmt.Errorf("%w: multipart field %q is missing", domain.ErrDecode, multipartField)
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, "", err
			}
			return nil, "", fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		if part.FormName() != multipartField {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, s.maxInputBytes+1))
		_ = part.Close()
		if err != nil {
			return nil, "", err
		}
		if int64(len(data)) > s.maxInputBytes {
			return nil, "", &http.MaxBytesError{Limit: s.maxInputBytes}
		}
		if len(data) == 0 {
			return nil, "", fmt.Errorf("%w: multipart field %q is empty", domain.ErrDecode, multipartField)
		}
		return data, part.Header.Get("Content-Type"), nil
	}
}
