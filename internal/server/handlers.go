package server

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"yashubustudio/attackmapper/internal/app"
	"yashubustudio/attackmapper/internal/metrics"
	"yashubustudio/attackmapper/mapper"
)

const (
	previewRows  = 50
	topTechnique = 10
)

func (s *Server) index(c fiber.Ctx) error {
	return c.Render("index", s.page("Upload", fiber.Map{
		"Techniques": s.session.Service().Taxonomy().Len(),
	}))
}

func (s *Server) page(title string, m fiber.Map) fiber.Map {
	m["Title"] = title
	m["Model"] = s.session.Service().ModelID()
	return m
}

// run processes one file and records metrics and the downloadable artifacts.
func (s *Server) run(ctx context.Context, process func(context.Context) (*app.Result, error)) (*app.Result, error) {
	res, err := process(ctx)
	if err != nil {
		outcome := metrics.OutcomeError
		if app.IsUserError(err) {
			outcome = metrics.OutcomeRejected
		}
		s.metrics.ObserveUpload(outcome, 0, 0, 0)
		return nil, err
	}
	s.metrics.ObserveUpload(metrics.OutcomeOK, res.Mapped, res.Failed, res.Elapsed)
	s.metrics.SetTechniques(res.Coverage.Total)

	data, err := res.CSV()
	if err != nil {
		return nil, err
	}
	if err := s.results.Put(res.ID, StoredResult{Filename: res.Filename, CSV: data, Layer: res.LayerJSON}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Server) mapUpload(c fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).Render("index", s.page("Upload", fiber.Map{
			"Error": "Please choose a CSV file to upload.",
		}))
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := s.run(c.Context(), func(ctx context.Context) (*app.Result, error) {
		return s.session.Process(ctx, f, fh.Filename)
	})
	if err != nil {
		if app.IsUserError(err) {
			return c.Status(fiber.StatusBadRequest).Render("index", s.page("Upload", fiber.Map{
				"Error": err.Error(),
			}))
		}
		return err
	}
	return c.Render("result", s.page("Results", s.resultView(res)))
}

// previewUpload parses the file and shows its first rows before any mapping
// work. The raw upload is kept so /map/:id can process it without a second
// upload.
func (s *Server) previewUpload(c fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).Render("index", s.page("Upload", fiber.Map{
			"Error": "Please choose a CSV file to upload.",
		}))
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	tbl, err := mapper.ReadTable(bytes.NewReader(data), mapper.CommaFor(fh.Filename))
	if err == nil {
		_, err = tbl.DescriptionColumn()
	}
	if err != nil {
		if app.IsUserError(err) {
			s.metrics.ObserveUpload(metrics.OutcomeRejected, 0, 0, 0)
			return c.Status(fiber.StatusBadRequest).Render("index", s.page("Upload", fiber.Map{
				"Error": err.Error(),
			}))
		}
		return err
	}

	id := uuid.NewString()
	if err := s.results.PutUpload(id, StoredResult{Filename: fh.Filename, CSV: data}); err != nil {
		return err
	}
	rows := tbl.Rows
	truncated := len(rows) > previewRows
	if truncated {
		rows = rows[:previewRows]
	}
	return c.Render("preview", s.page("Preview", fiber.Map{
		"ID":        id,
		"Filename":  fh.Filename,
		"Records":   len(tbl.Rows),
		"Header":    tbl.Header,
		"Rows":      rows,
		"Truncated": truncated,
	}))
}

func (s *Server) mapPreviewed(c fiber.Ctx) error {
	up, err := s.results.GetUpload(c.Params("id"))
	if err != nil {
		return err
	}
	res, err := s.run(c.Context(), func(ctx context.Context) (*app.Result, error) {
		return s.session.Process(ctx, bytes.NewReader(up.CSV), up.Filename)
	})
	if err != nil {
		return err
	}
	return c.Render("result", s.page("Results", s.resultView(res)))
}

type topEntry struct {
	ID    string
	Name  string
	Count int
}

func (s *Server) resultView(res *app.Result) fiber.Map {
	rows := res.Table.Rows
	truncated := len(rows) > previewRows
	if truncated {
		rows = rows[:previewRows]
	}
	tax := s.session.Service().Taxonomy()
	var top []topEntry
	for _, e := range res.Tally.Ranked() {
		if len(top) == topTechnique {
			break
		}
		entry := topEntry{ID: e.ID, Count: e.Count}
		if tech, ok := tax.Technique(e.ID); ok {
			entry.Name = tech.Name
		}
		top = append(top, entry)
	}
	remaining := mapper.Uncovered(res.Tally, tax)
	return fiber.Map{
		"ID":        res.ID,
		"Filename":  res.Filename,
		"Records":   res.Records,
		"Mapped":    res.Mapped,
		"Failed":    res.Failed,
		"Coverage":  res.Coverage,
		"Header":    res.Table.Header,
		"Rows":      rows,
		"Truncated": truncated,
		"Top":       top,
		"Matrix":    template.HTML(res.MatrixHTML),
		"Remaining": remaining,
		"LayerJSON": string(res.LayerJSON),
	}
}

func (s *Server) downloadCSV(c fiber.Ctx) error {
	res, err := s.results.Get(c.Params("id"))
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(res.Filename), filepath.Ext(res.Filename))
	c.Attachment(fmt.Sprintf("%s_mitre_mapped.csv", base))
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.Send(res.CSV)
}

func (s *Server) downloadLayer(c fiber.Ctx) error {
	res, err := s.results.Get(c.Params("id"))
	if err != nil {
		return err
	}
	c.Attachment("mitre_navigator_layer.json")
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(res.Layer)
}

type mapRequest struct {
	Descriptions []string `json:"descriptions"`
}

type mapResponse struct {
	ID       string              `json:"id"`
	Records  int                 `json:"records"`
	Mapped   int                 `json:"mapped"`
	Failed   int                 `json:"failed"`
	Matches  []mapper.Match      `json:"matches"`
	Tally    mapper.Tally        `json:"tally"`
	Coverage mapper.Coverage     `json:"coverage"`
	Ranked   []mapper.TallyEntry `json:"ranked"`
	CSVURL   string              `json:"csvUrl"`
	LayerURL string              `json:"layerUrl"`
}

// apiMap accepts either a multipart "file" field or a JSON body
// {"descriptions": [...]}.
func (s *Server) apiMap(c fiber.Ctx) error {
	var process func(context.Context) (*app.Result, error)
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()
		process = func(ctx context.Context) (*app.Result, error) {
			return s.session.Process(ctx, f, fh.Filename)
		}
	} else {
		var req mapRequest
		if err := c.Bind().JSON(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "expected a multipart file or a JSON body with descriptions")
		}
		if len(req.Descriptions) == 0 {
			return jsonError(c, fiber.StatusBadRequest, "descriptions must not be empty")
		}
		tbl := &mapper.Table{Header: []string{"Description"}}
		for _, d := range req.Descriptions {
			tbl.Rows = append(tbl.Rows, []string{d})
		}
		process = func(ctx context.Context) (*app.Result, error) {
			return s.session.ProcessTable(ctx, tbl, "api.csv")
		}
	}

	res, err := s.run(c.Context(), process)
	if err != nil {
		return err
	}
	return jsonSuccess(c, mapResponse{
		ID:       res.ID,
		Records:  res.Records,
		Mapped:   res.Mapped,
		Failed:   res.Failed,
		Matches:  res.Matches,
		Tally:    res.Tally,
		Coverage: res.Coverage,
		Ranked:   res.Tally.Ranked(),
		CSVURL:   "/results/" + res.ID + "/csv",
		LayerURL: "/results/" + res.ID + "/layer.json",
	})
}

func (s *Server) apiReload(c fiber.Ctx) error {
	s.InvalidateTaxonomy("api")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "ok",
		"data":   fiber.Map{"invalidated": true},
	})
}

func (s *Server) health(c fiber.Ctx) error {
	loadedAt := s.session.LoadedAt()
	data := fiber.Map{
		"model":          s.session.Service().ModelID(),
		"taxonomyLoaded": !loadedAt.IsZero(),
		"techniques":     s.session.Service().Taxonomy().Len(),
	}
	if !loadedAt.IsZero() {
		data["loadedAt"] = loadedAt.UTC().Format(time.RFC3339)
	}
	return jsonSuccess(c, data)
}
