package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lingodoc/lingodoc/internal/archive"
	"github.com/lingodoc/lingodoc/internal/cache"
	"github.com/lingodoc/lingodoc/internal/jobs"
	"github.com/lingodoc/lingodoc/internal/lang"
	"github.com/lingodoc/lingodoc/pkg/icron"
	"github.com/lingodoc/lingodoc/pkg/log"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := healthResponse{
		Status:     "ok",
		ActiveJobs: s.manager.ActiveCount(),
		CanStart:   s.manager.CanStart(),
	}
	resp.Retention = sweepInfo(s.retentionCron)
	resp.Cleanup = sweepInfo(s.cleanupCron)
	writeJSON(w, http.StatusOK, resp)
}

func sweepInfo(expr string) *healthSweep {
	if expr == "" {
		return nil
	}
	info, err := icron.GetTriggerInfo(expr, time.Now())
	if err != nil {
		return nil
	}
	ret := &healthSweep{
		Expression:    expr,
		NextRun:       info.Next.Format(time.RFC3339),
		TimeUntilNext: info.TimeUntilNext.Round(time.Second).String(),
	}
	if !info.Last.IsZero() {
		ret.LastRun = info.Last.Format(time.RFC3339)
	}
	return ret
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp, status, err := s.storeUpload(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, resp)
}

// storeUpload reads the multipart "file" part into the upload cache,
// keyed by its content fingerprint. Re-uploading identical content is a
// cheap hit.
func (s *Server) storeUpload(w http.ResponseWriter, r *http.Request) (uploadResponse, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	part, header, err := r.FormFile("file")
	if err != nil {
		return uploadResponse{}, http.StatusBadRequest, fmt.Errorf("missing file field: %w", err)
	}
	defer part.Close()

	content, err := io.ReadAll(part)
	if err != nil {
		return uploadResponse{}, http.StatusRequestEntityTooLarge, fmt.Errorf("read upload: %w", err)
	}

	key := cache.Fingerprint(content, nil)
	resp := uploadResponse{
		FileID:    key,
		Filename:  header.Filename,
		SizeBytes: int64(len(content)),
	}
	if s.uploads.Exists(key) {
		resp.AlreadyCached = true
		return resp, http.StatusOK, nil
	}

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return uploadResponse{}, http.StatusInternalServerError, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return uploadResponse{}, http.StatusInternalServerError, err
	}
	if err := tmp.Close(); err != nil {
		return uploadResponse{}, http.StatusInternalServerError, err
	}

	if _, err := s.uploads.Put(key, tmpName, map[string]string{
		"filename": header.Filename,
	}, true); err != nil {
		return uploadResponse{}, http.StatusInternalServerError, err
	}
	return resp, http.StatusCreated, nil
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req translateRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		// One-shot form: file plus translation settings in one request.
		upload, status, err := s.storeUpload(w, r)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		req = translateFormRequest(r)
		req.FileID = upload.FileID
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.FileID == "" {
		writeError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	inputPath, ok := s.uploads.Get(req.FileID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown file_id")
		return
	}
	entry, _ := s.uploads.GetEntry(req.FileID)
	filename := entry.Metadata["filename"]
	if filename == "" {
		filename = filepath.Base(inputPath)
	}

	langIn := req.LangIn
	if langIn == "" {
		langIn = s.defaultLangIn.String()
	}
	langOut := req.LangOut
	if langOut == "" {
		langOut = s.defaultLangOut.String()
	}
	inTag, err := lang.Resolve(langIn, req.TextSample)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("lang_in: %v", err))
		return
	}
	outTag, err := lang.Resolve(langOut, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("lang_out: %v", err))
		return
	}

	job, err := s.manager.Create(jobs.Params{
		Filename:      filename,
		InputPath:     inputPath,
		InputKey:      req.FileID,
		LangIn:        inTag.String(),
		LangOut:       outTag.String(),
		Pages:         req.Pages,
		Model:         req.Model,
		NoDual:        req.NoDual,
		NoMono:        req.NoMono,
		WatermarkMode: req.WatermarkMode,
		MinTextLength: req.MinTextLength,
		QPS:           req.QPS,
		Options:       req.Options,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.manager.Execute(job.ID); err != nil {
		if errors.Is(err, jobs.ErrTooManyJobs) {
			// The creation left a pending job; remove it so the rejected
			// request leaves no trace.
			if delErr := s.manager.Delete(job.ID); delErr != nil {
				log.Warn("Failed to remove rejected job %s: %v", job.ID, delErr)
			}
			writeError(w, http.StatusTooManyRequests, "too many active jobs, retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	created, err := s.manager.Get(job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func translateFormRequest(r *http.Request) translateRequest {
	req := translateRequest{
		LangIn:        r.FormValue("lang_in"),
		LangOut:       r.FormValue("lang_out"),
		TextSample:    r.FormValue("text_sample"),
		Pages:         r.FormValue("pages"),
		Model:         r.FormValue("model"),
		WatermarkMode: r.FormValue("watermark_mode"),
	}
	req.NoDual, _ = strconv.ParseBool(r.FormValue("no_dual"))
	req.NoMono, _ = strconv.ParseBool(r.FormValue("no_mono"))
	req.MinTextLength, _ = strconv.Atoi(r.FormValue("min_text_length"))
	req.QPS, _ = strconv.ParseFloat(r.FormValue("qps"), 64)
	return req
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	tasks, total := s.manager.List((page-1)*pageSize, pageSize)
	writeJSON(w, http.StatusOK, taskListResponse{
		Tasks:    tasks,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing task id")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.getTask(w, id)
		case http.MethodDelete:
			s.deleteTask(w, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.cancelTask(w, id)
	case "stream":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleTaskStream(w, r, id)
	case "download":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.downloadTask(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) getTask(w http.ResponseWriter, id string) {
	job, err := s.manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteTask(w http.ResponseWriter, id string) {
	err := s.manager.Delete(id)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, jobs.ErrJobActive):
		writeError(w, http.StatusConflict, "task is still active, cancel it first")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) cancelTask(w http.ResponseWriter, id string) {
	err := s.manager.Cancel(id)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, jobs.ErrNotCancellable):
		writeError(w, http.StatusConflict, "task is not processing")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		job, _ := s.manager.Get(id)
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) downloadTask(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if job.Status != jobs.StatusCompleted {
		writeError(w, http.StatusConflict, fmt.Sprintf("task is %s", job.Status))
		return
	}
	if len(job.OutputFiles) == 0 {
		writeError(w, http.StatusNotFound, "task produced no output files")
		return
	}

	out, ok := selectOutput(job.OutputFiles, r.URL.Query())
	if !ok {
		writeError(w, http.StatusNotFound, "no matching output file")
		return
	}
	serveAttachment(w, r, out.Path, filepath.Base(out.Path))
}

// selectOutput picks an output by ?type= or ?index=, defaulting to the
// first file.
func selectOutput(files []jobs.OutputFile, query map[string][]string) (jobs.OutputFile, bool) {
	if want := first(query["type"]); want != "" {
		for _, f := range files {
			if string(f.Type) == want {
				return f, true
			}
		}
		return jobs.OutputFile{}, false
	}
	idx := 0
	if raw := first(query["index"]); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed >= len(files) {
			return jobs.OutputFile{}, false
		}
		idx = parsed
	}
	return files[idx], true
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.TaskIDs) == 0 {
		writeError(w, http.StatusBadRequest, "task_ids is required")
		return
	}

	wantTypes := make(map[string]bool, len(req.FileTypes))
	for _, t := range req.FileTypes {
		wantTypes[t] = true
	}

	var (
		specs     []archive.FileSpec
		skipped   []string
		langOut   string
		mixedLang bool
	)
	for _, id := range req.TaskIDs {
		job, err := s.manager.Get(id)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: not found", id))
			continue
		}
		if job.Status != jobs.StatusCompleted {
			skipped = append(skipped, fmt.Sprintf("%s: %s", id, job.Status))
			continue
		}
		if langOut == "" {
			langOut = job.Params.LangOut
		} else if langOut != job.Params.LangOut {
			mixedLang = true
		}
		for _, out := range job.OutputFiles {
			if len(wantTypes) > 0 {
				if !wantTypes[string(out.Type)] {
					continue
				}
			} else if out.Type == jobs.OutputGlossary {
				continue
			}
			if req.Watermark != nil && out.HasWatermark != *req.Watermark {
				continue
			}
			specs = append(specs, archive.FileSpec{
				Path:  out.Path,
				Name:  filepath.Base(out.Path),
				JobID: id,
			})
		}
	}
	if mixedLang {
		// Heterogeneous batch: the archive gets the generic name.
		langOut = ""
	} else if langOut == "" {
		langOut = s.defaultLangOut.String()
	}

	batch, err := s.bundler.CreateArchive(r.Context(), specs, langOut)
	if err != nil {
		if errors.Is(err, archive.ErrNothingBundled) {
			writeError(w, http.StatusUnprocessableEntity, "no files could be bundled")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		archive.Batch
		SkippedTasks []string `json:"skipped_tasks,omitempty"`
	}{Batch: batch, SkippedTasks: skipped})
}

func (s *Server) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/batch/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing batch id")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			batch, err := s.bundler.GetBatch(id)
			if err != nil {
				writeError(w, http.StatusNotFound, "batch not found")
				return
			}
			writeJSON(w, http.StatusOK, batch)
		case http.MethodDelete:
			if err := s.bundler.CleanupBatch(id); err != nil {
				writeError(w, http.StatusNotFound, "batch not found")
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "download":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		batch, err := s.bundler.GetBatch(id)
		if err != nil {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		serveAttachment(w, r, batch.ArchivePath, batch.DownloadName)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := cacheStatsResponse{Uploads: s.uploads.Stats()}
	if s.results != nil {
		stats := s.results.Stats()
		resp.Results = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.uploads.Clear()
	if s.results != nil {
		s.results.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

func serveAttachment(w http.ResponseWriter, r *http.Request, path, name string) {
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "file no longer exists")
		return
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
