package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/roach88/fhirsql/internal/compiler"
	"github.com/roach88/fhirsql/internal/cte"
	"github.com/roach88/fhirsql/internal/parser"
	"github.com/roach88/fhirsql/internal/store"
	"github.com/roach88/fhirsql/internal/translator"
	"github.com/roach88/fhirsql/internal/types"
)

// CompileRequest is the body of the compile, explain and run endpoints.
type CompileRequest struct {
	Expression   string `json:"expression"`
	Dialect      string `json:"dialect,omitempty"`
	ResourceType string `json:"resourceType,omitempty"`
}

// RunResponse is the body returned by POST /v1/run.
type RunResponse struct {
	ID   string      `json:"id"`
	SQL  string      `json:"sql"`
	Rows []store.Row `json:"rows"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Construct  string   `json:"construct,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	Position   *int     `json:"position,omitempty"`
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

func (s *Server) bind(c echo.Context) (CompileRequest, error) {
	var req CompileRequest
	if err := c.Bind(&req); err != nil {
		return req, badRequest(c, "INVALID_BODY", "request body must be JSON")
	}
	if req.Expression == "" {
		return req, badRequest(c, "INVALID_BODY", "expression is required")
	}
	return req, nil
}

func (s *Server) compile(c echo.Context) error {
	req, err := s.bind(c)
	if err != nil {
		return err
	}
	comp, err := s.compiler(req.Dialect, req.ResourceType)
	if err != nil {
		return badRequest(c, "INVALID_OPTIONS", err.Error())
	}
	res, err := comp.CompileString(req.Expression)
	if err != nil {
		return compileError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) explain(c echo.Context) error {
	req, err := s.bind(c)
	if err != nil {
		return err
	}
	comp, err := s.compiler(req.Dialect, req.ResourceType)
	if err != nil {
		return badRequest(c, "INVALID_OPTIONS", err.Error())
	}
	exp, err := comp.Explain(req.Expression)
	if err != nil {
		return compileError(c, err)
	}
	return c.JSON(http.StatusOK, exp)
}

func (s *Server) run(c echo.Context) error {
	req, err := s.bind(c)
	if err != nil {
		return err
	}
	comp, err := s.compiler(s.opts.ExecutorDialect, req.ResourceType)
	if err != nil {
		return badRequest(c, "INVALID_OPTIONS", err.Error())
	}
	res, err := comp.CompileString(req.Expression)
	if err != nil {
		return compileError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()
	rows, err := s.opts.Executor.Query(ctx, res.SQL)
	if err != nil {
		return c.JSON(http.StatusBadGateway, errorResponse{Error: ErrorBody{
			Code:    "EXECUTION_FAILED",
			Message: err.Error(),
		}})
	}
	return c.JSON(http.StatusOK, RunResponse{ID: res.ID, SQL: res.SQL, Rows: rows})
}

func (s *Server) types(c echo.Context) error {
	reg := s.opts.Compiler.Types
	switch {
	case reg != nil:
	case s.opts.Compiler.Schema != nil:
		reg = types.NewRegistry(s.opts.Compiler.Schema)
	default:
		reg = types.Default()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"types":     reg.AllTypeNames(),
		"functions": translator.FunctionNames(),
		"dialects":  compiler.DialectNames(),
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) health(c echo.Context) error {
	if p, ok := s.opts.Executor.(pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func badRequest(c echo.Context, code, message string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// compileError maps compiler failures to responses: syntax errors are the
// caller's input (400), translation errors are valid syntax the compiler
// rejects (422), anything else is a defect (500).
func compileError(c echo.Context, err error) error {
	var se *parser.SyntaxError
	if errors.As(err, &se) {
		pos := se.Pos
		return c.JSON(http.StatusBadRequest, errorResponse{Error: ErrorBody{
			Code:     "SYNTAX_ERROR",
			Message:  se.Message,
			Position: &pos,
		}})
	}

	var te *translator.TranslationError
	if errors.As(err, &te) {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: ErrorBody{
			Code:       string(te.Code),
			Message:    te.Error(),
			Construct:  te.Construct,
			Candidates: te.Candidates,
		}})
	}

	code := "INTERNAL"
	var ae *cte.AssemblyError
	if errors.As(err, &ae) {
		code = string(ae.Code)
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: ErrorBody{
		Code:    code,
		Message: err.Error(),
	}})
}
