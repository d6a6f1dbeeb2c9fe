package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/annel0/starfleet/internal/engine"
	"github.com/annel0/starfleet/internal/eventbus"
	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/geom"
	"github.com/annel0/starfleet/internal/quadtree"
	"github.com/annel0/starfleet/internal/storage"
	"github.com/gin-gonic/gin"
)

// SystemInfo система в ответах API
type SystemInfo struct {
	Name     string     `json:"name"`
	Position geom.Point `json:"position"`
	Entities int        `json:"entities"`
}

// AddSystemRequest тело POST /api/systems
type AddSystemRequest struct {
	Name string   `json:"name" binding:"required"`
	X    *float64 `json:"x" binding:"required"`
	Y    *float64 `json:"y" binding:"required"`
}

// SpawnRequest тело POST /api/systems/:name/entities; ID необязателен
type SpawnRequest struct {
	ID string   `json:"id"`
	X  *float64 `json:"x" binding:"required"`
	Y  *float64 `json:"y" binding:"required"`
}

// StatsResponse ответ /api/stats
type StatsResponse struct {
	Tick    uint64          `json:"tick"`
	Running bool            `json:"running"`
	Galaxy  galaxy.Stats    `json:"galaxy"`
	Process ProcessSnapshot `json:"process"`
}

func systemInfo(sys *galaxy.StarSystem) SystemInfo {
	return SystemInfo{Name: sys.Name, Position: sys.Position, Entities: sys.Entities.Len()}
}

// statusFor переводит ошибки домена в HTTP статус
func statusFor(err error) int {
	switch {
	case errors.Is(err, galaxy.ErrUnknownSystem), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, galaxy.ErrDuplicateSystem):
		return http.StatusConflict
	case errors.Is(err, galaxy.ErrEmptyName), errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, quadtree.ErrOutOfBounds), errors.Is(err, quadtree.ErrCapacity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNoStore), errors.Is(err, storage.ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: err.Error()})
}

// circleQuery читает x, y, r из query. required=false допускает отсутствие всех трёх.
func circleQuery(c *gin.Context, required bool) (geom.Point, float64, bool, error) {
	xs, ys, rs := c.Query("x"), c.Query("y"), c.Query("r")
	if !required && xs == "" && ys == "" && rs == "" {
		return geom.Point{}, 0, false, nil
	}

	var vals [3]float64
	for i, s := range []string{xs, ys, rs} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return geom.Point{}, 0, false, errors.New("query parameters x, y and r must be numbers")
		}
		vals[i] = v
	}
	return geom.Pt(vals[0], vals[1]), vals[2], true, nil
}

// handleHealth проверка состояния
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"tick":    rs.engine.TickCount(),
		"running": rs.engine.Running(),
	})
}

// handleStats сводка галактики и процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	var gs galaxy.Stats
	_ = rs.engine.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
		gs = g.Stats()
		return nil
	})

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data: StatsResponse{
			Tick:    rs.engine.TickCount(),
			Running: rs.engine.Running(),
			Galaxy:  gs,
			Process: rs.stats.Snapshot(),
		},
	})
}

func (rs *RestServer) handleListSystems(c *gin.Context) {
	var out []SystemInfo
	_ = rs.engine.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
		systems := g.Systems()
		out = make([]SystemInfo, 0, len(systems))
		for _, sys := range systems {
			out = append(out, systemInfo(sys))
		}
		return nil
	})
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: out})
}

func (rs *RestServer) handleAddSystem(c *gin.Context) {
	var req AddSystemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	pos := geom.Pt(*req.X, *req.Y)
	var info SystemInfo
	err := rs.engine.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
		sys, err := g.AddSystem(req.Name, pos)
		if err != nil {
			return err
		}
		info = systemInfo(sys)
		return nil
	})
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}

	_ = eventbus.Emit(c.Request.Context(), rs.bus, "api", eventbus.EventSystemAdded, 1,
		eventbus.SystemAddedEvent{Name: info.Name, X: pos.X, Y: pos.Y})
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Data: info})
}

func (rs *RestServer) handleSystemsNear(c *gin.Context) {
	p, r, _, err := circleQuery(c, true)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	var out []SystemInfo
	_ = rs.engine.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
		found := g.SystemsNear(p, r)
		out = make([]SystemInfo, 0, len(found))
		for _, sys := range found {
			out = append(out, systemInfo(sys))
		}
		return nil
	})
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: out})
}

// handleEntities все сущности системы или только в круге, если заданы x, y, r
func (rs *RestServer) handleEntities(c *gin.Context) {
	name := c.Param("name")
	p, r, circle, err := circleQuery(c, false)
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	var out []galaxy.Entity
	err = rs.engine.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
		var err error
		if circle {
			out, err = g.EntitiesNear(name, p, r)
		} else {
			out, err = g.Entities(name)
		}
		return err
	})
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: out})
}

func (rs *RestServer) handleSpawn(c *gin.Context) {
	name := c.Param("name")
	var req SpawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	pos := geom.Pt(*req.X, *req.Y)
	id := galaxy.EntityID(req.ID)
	err := rs.engine.Galaxy().WithLock(func(g *galaxy.Galaxy) error {
		if id == "" {
			var err error
			id, err = g.Spawn(name, pos)
			return err
		}
		return g.SpawnWithID(name, id, pos)
	})
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Data: galaxy.Entity{ID: id, Position: pos}})
}

func (rs *RestServer) handleSave(c *gin.Context) {
	info, err := rs.engine.Save(c.Request.Context())
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Снимок сохранён", Data: info})
}

func (rs *RestServer) handleLoad(c *gin.Context) {
	info, err := rs.engine.Load(c.Request.Context())
	if err != nil {
		fail(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Снимок загружен", Data: info})
}

func (rs *RestServer) handleWebhooks(c *gin.Context) {
	statuses := []WebhookStatus{}
	if rs.webhooks != nil {
		statuses = rs.webhooks.Statuses()
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: statuses})
}
