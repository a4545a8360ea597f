package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

// Request bodies larger than this are cut off mid-decode and rejected.
const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc TodoAPI, auth Authenticator, logger *log.Logger) {
	e.GET("/todos", getTodos(svc, auth, logger))
	e.POST("/todos", createTodo(svc, auth))
	e.PUT("/todos/:id", updateTodo(svc, auth))
	e.PUT("/todos/:id/toggle", toggleTodo(svc, auth))
	e.DELETE("/todos/:id", deleteTodo(svc, auth))
	e.GET("/healthz", healthz())
}

type errorResponse struct {
	Message string `json:"message"`
}

type deleteResponse struct {
	ID string `json:"id"`
}

type createTodoRequest struct {
	Text     string `json:"text"`
	Priority string `json:"priority"`
	DueDate  string `json:"dueDate"`
}

type updateTodoRequest struct {
	Text      string `json:"text"`
	Priority  string `json:"priority"`
	DueDate   string `json:"dueDate"`
	Completed *bool  `json:"completed"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTodos(svc TodoAPI, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newTodoRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.JSON(http.StatusUnauthorized, errorResponse{Message: authErr.Error()})
			return err
		}

		fetchStart := time.Now()
		todos, listErr := svc.List(ctx, userID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if listErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(listErr)
			err = c.JSON(http.StatusInternalServerError, errorResponse{Message: "failed to fetch todos"})
			return err
		}
		metrics.SetTodosReturned(len(todos))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, todos)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTodo(svc TodoAPI, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		var req createTodoRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}
		due, err := parseDueDate(req.DueDate)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		}

		todo, err := svc.Create(c.Request().Context(), userID, domain.CreateInput{
			Text:     req.Text,
			Priority: domain.Priority(req.Priority),
			DueDate:  due,
		})
		if err != nil {
			return respondError(c, err, http.StatusBadRequest, "failed to create todo")
		}
		return c.JSON(http.StatusCreated, todo)
	}
}

func updateTodo(svc TodoAPI, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		var req updateTodoRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: "invalid body"})
		}
		due, err := parseDueDate(req.DueDate)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Message: err.Error()})
		}

		todo, err := svc.Update(c.Request().Context(), userID, c.Param("id"), domain.TodoUpdate{
			Text:      req.Text,
			Priority:  domain.Priority(req.Priority),
			DueDate:   due,
			Completed: req.Completed,
		})
		if err != nil {
			return respondError(c, err, http.StatusBadRequest, "failed to update todo")
		}
		return c.JSON(http.StatusOK, todo)
	}
}

func toggleTodo(svc TodoAPI, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		todo, err := svc.Toggle(c.Request().Context(), userID, c.Param("id"))
		if err != nil {
			return respondError(c, err, http.StatusBadRequest, "failed to toggle todo")
		}
		return c.JSON(http.StatusOK, todo)
	}
}

func deleteTodo(svc TodoAPI, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		id, err := svc.Delete(c.Request().Context(), userID, c.Param("id"))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return c.JSON(http.StatusNotFound, errorResponse{Message: "todo not found or not authorized"})
			}
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Message: "error deleting todo"})
		}
		return c.JSON(http.StatusOK, deleteResponse{ID: id})
	}
}

// respondError maps typed service failures to status codes. Anything outside
// the taxonomy is logged and answered with the route's fallback code and a
// generic message so store internals never reach the client.
func respondError(c echo.Context, err error, fallback int, fallbackMsg string) error {
	var ve domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, errorResponse{Message: ve.Reason})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Message: "todo not found"})
	case errors.Is(err, domain.ErrNotOwner):
		return c.JSON(http.StatusUnauthorized, errorResponse{Message: "user not authorized"})
	}
	c.Logger().Error(err)
	return c.JSON(fallback, errorResponse{Message: fallbackMsg})
}

// decodeBody strictly decodes the request body: unknown fields are rejected
// so typos do not silently become no-ops.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseDueDate converts a client-supplied due date into a timestamp. The
// empty string means "field not provided" and yields nil, which keeps the
// stored value on update and leaves the field unset on create.
func parseDueDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts, nil
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return &ts, nil
	}
	return nil, domain.ValidationError{Reason: "invalid due date"}
}
