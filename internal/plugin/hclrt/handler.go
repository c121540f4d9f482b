package hclrt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/any-hub/plughub/internal/router"
	"github.com/any-hub/plughub/internal/server"
)

var errUnknownValue = errors.New("expression result is not known")

func (i *instance) handler(route *routeBlock) fiber.Handler {
	return func(c fiber.Ctx) error {
		if i.closed.Load() {
			return c.Next()
		}
		evalCtx := i.evalContext(c)
		if !isNull(route.Upstream) {
			return i.proxy(c, route, evalCtx)
		}
		res, err := evaluate(route, evalCtx)
		if err != nil {
			return i.fail(c, fiber.StatusInternalServerError, "subserver handler failed", err)
		}
		return res.write(c)
	}
}

func (i *instance) evalContext(c fiber.Ctx) *hcl.EvalContext {
	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		headers[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	request := cty.ObjectVal(map[string]cty.Value{
		"method":  cty.StringVal(c.Method()),
		"path":    cty.StringVal(c.Path()),
		"params":  stringMap(router.Params(c)),
		"query":   stringMap(c.Queries()),
		"headers": stringMap(headers),
		"body":    cty.StringVal(string(c.Body())),
	})
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"request": request,
			"prefix":  cty.StringVal(i.env.Prefix),
		},
		Functions: i.funcs,
	}
}

func (i *instance) fail(c fiber.Ctx, status int, message string, err error) error {
	if i.env.Logger != nil {
		i.env.Logger.WithError(err).
			WithField("subserver", i.env.Name).
			WithField("path", c.Path()).
			Error("hcl_route_failed")
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"name":  i.env.Name,
	})
}

type result struct {
	status      int
	headers     [][2]string
	contentType string
	body        []byte
}

func (r *result) write(c fiber.Ctx) error {
	for _, header := range r.headers {
		c.Set(header[0], header[1])
	}
	if r.contentType != "" {
		c.Set(fiber.HeaderContentType, r.contentType)
	}
	return c.Status(r.status).Send(r.body)
}

func evaluate(route *routeBlock, evalCtx *hcl.EvalContext) (*result, error) {
	res := &result{status: fiber.StatusOK}

	status, err := eval(route.Status, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if !status.IsNull() {
		code, err := toStatus(status)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		res.status = code
	}

	headers, err := eval(route.Headers, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}
	if !headers.IsNull() {
		converted, err := convert.Convert(headers, cty.Map(cty.String))
		if err != nil {
			return nil, fmt.Errorf("headers: %w", err)
		}
		for it := converted.ElementIterator(); it.Next(); {
			key, value := it.Element()
			if value.IsNull() {
				continue
			}
			res.headers = append(res.headers, [2]string{key.AsString(), value.AsString()})
		}
	}

	contentType, err := eval(route.ContentType, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("content_type: %w", err)
	}
	if !contentType.IsNull() {
		converted, err := convert.Convert(contentType, cty.String)
		if err != nil {
			return nil, fmt.Errorf("content_type: %w", err)
		}
		res.contentType = converted.AsString()
	}

	body, err := eval(route.Body, evalCtx)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	if !body.IsNull() {
		payload, isJSON, err := renderBody(body)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		res.body = payload
		if isJSON && res.contentType == "" {
			res.contentType = fiber.MIMEApplicationJSON
		}
	}
	return res, nil
}

// renderBody 原样输出基础类型，集合类型编码为 JSON。
func renderBody(value cty.Value) ([]byte, bool, error) {
	if value.Type().IsPrimitiveType() {
		converted, err := convert.Convert(value, cty.String)
		if err != nil {
			return nil, false, err
		}
		return []byte(converted.AsString()), false, nil
	}
	payload, err := ctyjson.Marshal(value, value.Type())
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func toStatus(value cty.Value) (int, error) {
	number, err := convert.Convert(value, cty.Number)
	if err != nil {
		return 0, err
	}
	var code int
	if err := gocty.FromCtyValue(number, &code); err != nil {
		return 0, err
	}
	if code < 100 || code > 999 {
		return 0, fmt.Errorf("invalid status code %d", code)
	}
	return code, nil
}

func eval(expr hcl.Expression, evalCtx *hcl.EvalContext) (cty.Value, error) {
	value, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	if !value.IsWhollyKnown() {
		return cty.NilVal, errUnknownValue
	}
	return value, nil
}

func stringMap(values map[string]string) cty.Value {
	if len(values) == 0 {
		return cty.MapValEmpty(cty.String)
	}
	out := make(map[string]cty.Value, len(values))
	for key, value := range values {
		out[key] = cty.StringVal(value)
	}
	return cty.MapVal(out)
}

// proxy 将请求转发到 upstream，通配符捕获的剩余路径与查询串原样拼接。
func (i *instance) proxy(c fiber.Ctx, route *routeBlock, evalCtx *hcl.EvalContext) error {
	value, err := eval(route.Upstream, evalCtx)
	if err == nil && value.IsNull() {
		err = errors.New("upstream evaluated to null")
	}
	if err == nil {
		value, err = convert.Convert(value, cty.String)
	}
	if err != nil {
		return i.fail(c, fiber.StatusInternalServerError, "subserver handler failed", fmt.Errorf("upstream: %w", err))
	}

	target := upstreamURL(value.AsString(), router.Param(c, "*"), string(c.Request().URI().QueryString()))

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, c.Method(), target, bytes.NewReader(c.Body()))
	if err != nil {
		return i.fail(c, fiber.StatusBadGateway, "upstream request failed", err)
	}
	server.CopyHeaders(req.Header, server.RequestHeaders(c))
	req.Header.Del("Host")
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}

	client := i.env.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return i.fail(c, fiber.StatusBadGateway, "upstream request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return i.fail(c, fiber.StatusBadGateway, "upstream request failed", err)
	}
	server.CopyResponseHeaders(c, resp.Header)
	return c.Status(resp.StatusCode).Send(payload)
}

func upstreamURL(base, rest, rawQuery string) string {
	target := base
	if rest != "" {
		target = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rest, "/")
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}
