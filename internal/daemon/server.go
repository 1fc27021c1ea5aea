package daemon

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server is the daemon's control API: root management, status and history.
type Server struct {
	echo     *echo.Echo
	manager  *RootManager
	rootRepo *repository.RootRepository
	histRepo *repository.HistoryRepository
	port     int
	stopCh   chan struct{}
}

func NewServer(manager *RootManager, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		manager:  manager,
		rootRepo: repository.NewRootRepository(),
		histRepo: repository.NewHistoryRepository(),
		port:     port,
		stopCh:   make(chan struct{}, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// For the entire daemon
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/stop", s.handleStop)

	// For a specific sync root
	g := s.echo.Group("/roots")
	g.GET("", s.handleListRoots)
	g.POST("", s.handleAddRoot)
	g.DELETE("/:id", s.handleRemoveRoot)
	g.POST("/:id/pause", s.handlePauseRoot)
	g.POST("/:id/resume", s.handleResumeRoot)

	// History
	s.echo.GET("/history", s.handleHistory)
}

func (s *Server) Start() {
	go func() {
		addr := ":" + strconv.Itoa(s.port)
		logger.Log.Info("daemon server started",
			zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("daemon server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.manager.StopAll()
	return s.echo.Shutdown(ctx)
}

func (s *Server) StopCh() <-chan struct{} {
	return s.stopCh
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"roots": s.manager.Snapshots(),
	})
}

func (s *Server) handleStop(c echo.Context) error {
	s.stopCh <- struct{}{}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleListRoots(c echo.Context) error {
	roots, err := s.rootRepo.GetAll()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	snaps := make(map[uint]model.RootSnapshot)
	for _, snap := range s.manager.Snapshots() {
		snaps[snap.RootID] = snap
	}

	return c.JSON(http.StatusOK, map[string]any{
		"roots":   roots,
		"running": snaps,
	})
}

type addRootRequest struct {
	LocalPath  string             `json:"local_path"`
	RemotePath string             `json:"remote_path"`
	Provider   model.ProviderType `json:"provider"`
	VfsMode    model.VfsMode      `json:"vfs_mode"`
	KeepTrash  *bool              `json:"move_to_trash"`
}

func (s *Server) handleAddRoot(c echo.Context) error {
	var req addRootRequest
	if err := c.Bind(&req); err != nil || req.LocalPath == "" || req.RemotePath == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "local_path and remote_path required"})
	}

	if req.Provider == "" {
		req.Provider = model.ProviderGDrive
	}
	if req.VfsMode == "" {
		req.VfsMode = model.VfsOff
	}

	root := model.SyncRoot{
		LocalPath:   req.LocalPath,
		RemotePath:  req.RemotePath,
		Provider:    req.Provider,
		Status:      model.RootStatusActive,
		VfsMode:     req.VfsMode,
		MoveToTrash: req.KeepTrash == nil || *req.KeepTrash,
	}

	root, err := s.rootRepo.Add(root)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	if err := s.manager.StartRoot(root); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, root)
}

func (s *Server) handleRemoveRoot(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	_ = s.manager.StopRoot(uint(id))

	if err := s.rootRepo.Delete(uint(id)); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePauseRoot(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	if err := s.manager.PauseRoot(uint(id)); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResumeRoot(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
	}

	if err := s.manager.ResumeRoot(uint(id)); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleHistory(c echo.Context) error {
	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil {
			n = parsed
		}
	}

	histories, err := s.histRepo.GetRecent(n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, histories)
}
