// Copyright 2026 The quantfeed Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package luascript implements provider adapters backed by Lua scripts, the
// late-binding extension point for out-of-tree providers. A script declares
// its provider name and required credentials as globals and implements
// build_request, authorize and parse functions; the Go host owns transport,
// credential resolution and canonical validation.
package luascript

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"
	luaparse "github.com/yuin/gopher-lua/parse"

	"github.com/quantfeed/quantfeed/internal/credstore"
	"github.com/quantfeed/quantfeed/internal/provider"
	"github.com/quantfeed/quantfeed/internal/schema"
)

// Adapter runs a Lua provider script. Script states are pooled; each state
// has the compiled script pre-loaded with a restricted standard library.
type Adapter struct {
	name        string
	credentials []string
	client      *provider.Client
	proto       *lua.FunctionProto
	pool        sync.Pool
}

// New compiles the script at path and reads its provider declaration.
// Scripts must set the global `provider` and may set `credentials` (a list of
// required credential keys, default {"api_key"}).
func New(client *provider.Client, path string) (*Adapter, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("luascript: read %s: %w", path, err)
	}
	chunk, err := luaparse.Parse(bytes.NewReader(src), filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("luascript: parse %s: %w", path, err)
	}
	proto, err := lua.Compile(chunk, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("luascript: compile %s: %w", path, err)
	}

	a := &Adapter{client: client, proto: proto}
	a.pool = sync.Pool{New: func() any { return a.newState() }}

	L := a.state()
	defer a.release(L)
	name, ok := L.GetGlobal("provider").(lua.LString)
	if !ok || name == "" {
		return nil, fmt.Errorf("luascript: %s does not declare a provider name", path)
	}
	a.name = string(name)
	a.credentials = []string{"api_key"}
	if tbl, ok := L.GetGlobal("credentials").(*lua.LTable); ok {
		a.credentials = a.credentials[:0]
		tbl.ForEach(func(_, v lua.LValue) {
			a.credentials = append(a.credentials, v.String())
		})
	}
	return a, nil
}

// newState builds a sandboxed interpreter with the script loaded. Only the
// base, table, string and math libraries are opened; os/io stay disabled.
// json_decode is provided by the host since the sandbox carries no JSON
// library of its own.
func (a *Adapter) newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("json_decode", L.NewFunction(jsonDecode))

	L.Push(L.NewFunctionFromProto(a.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		// Compilation already succeeded; a failing top-level chunk leaves the
		// state without the expected functions and surfaces on first call.
		L.SetGlobal("provider", lua.LNil)
	}
	return L
}

func (a *Adapter) state() *lua.LState    { return a.pool.Get().(*lua.LState) }
func (a *Adapter) release(L *lua.LState) { a.pool.Put(L) }

// Name returns the provider name declared by the script.
func (a *Adapter) Name() string { return a.name }

// Supports always reports true: a script serves whichever commands its
// manifest binds it to.
func (a *Adapter) Supports(string) bool { return true }

// RequiredCredentials names the credential keys declared by the script.
func (a *Adapter) RequiredCredentials() []string { return a.credentials }

// BuildRequest calls the script's build_request(command, query) function.
// The returned table may set url, method, query (table) and body (table);
// body fields are assembled into JSON on the Go side.
func (a *Adapter) BuildRequest(command string, q *schema.Query) (*provider.Request, error) {
	if err := provider.CheckSupported(a.name, q); err != nil {
		return nil, err
	}
	L := a.state()
	defer a.release(L)

	queryTbl := L.NewTable()
	for _, name := range q.Fields() {
		L.SetField(queryTbl, name, lua.LString(q.String(name)))
	}
	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("build_request"),
		NRet:    1,
		Protect: true,
	}, lua.LString(command), queryTbl); err != nil {
		return nil, &provider.ProviderUnavailableError{Provider: a.name, Err: err}
	}
	ret, ok := L.Get(-1).(*lua.LTable)
	L.Pop(1)
	if !ok {
		return nil, &provider.ProviderUnavailableError{
			Provider: a.name,
			Err:      fmt.Errorf("build_request must return a table"),
		}
	}

	rawURL := lua.LVAsString(L.GetField(ret, "url"))
	if rawURL == "" {
		return nil, &provider.ProviderUnavailableError{
			Provider: a.name,
			Err:      fmt.Errorf("build_request returned no url"),
		}
	}
	req := provider.NewRequest(a.name, command, rawURL)
	if m := lua.LVAsString(L.GetField(ret, "method")); m != "" {
		req.Method = m
	}
	if tbl, ok := L.GetField(ret, "query").(*lua.LTable); ok {
		tbl.ForEach(func(k, v lua.LValue) { req.Query.Set(k.String(), v.String()) })
	}
	if tbl, ok := L.GetField(ret, "headers").(*lua.LTable); ok {
		tbl.ForEach(func(k, v lua.LValue) { req.Header.Set(k.String(), v.String()) })
	}
	if tbl, ok := L.GetField(ret, "body").(*lua.LTable); ok {
		body := []byte(`{}`)
		var err error
		tbl.ForEach(func(k, v lua.LValue) {
			if err == nil {
				body, err = sjson.SetBytes(body, k.String(), luaToGo(v))
			}
		})
		if err != nil {
			return nil, &provider.ProviderUnavailableError{Provider: a.name, Err: err}
		}
		req.Body = body
		req.Method = http.MethodPost
	}
	return req, nil
}

// Fetch applies the script's authorize(creds) result to the request and
// executes it through the shared client. authorize returns a table with
// optional query and headers tables; when absent, api_key becomes an apikey
// query parameter.
func (a *Adapter) Fetch(ctx context.Context, req *provider.Request, creds credstore.Credentials) ([]byte, error) {
	L := a.state()
	defer a.release(L)

	if fn := L.GetGlobal("authorize"); fn != lua.LNil {
		credsTbl := L.NewTable()
		for k, v := range creds {
			L.SetField(credsTbl, k, lua.LString(v))
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, credsTbl); err != nil {
			return nil, &provider.AuthenticationError{Provider: a.name, Reason: err.Error()}
		}
		ret, _ := L.Get(-1).(*lua.LTable)
		L.Pop(1)
		if ret != nil {
			if tbl, ok := L.GetField(ret, "query").(*lua.LTable); ok {
				tbl.ForEach(func(k, v lua.LValue) { req.Query.Set(k.String(), v.String()) })
			}
			if tbl, ok := L.GetField(ret, "headers").(*lua.LTable); ok {
				tbl.ForEach(func(k, v lua.LValue) { req.Header.Set(k.String(), v.String()) })
			}
		}
	} else {
		if creds.APIKey() == "" {
			return nil, &provider.AuthenticationError{Provider: a.name, Reason: "missing api_key"}
		}
		req.Query.Set("apikey", creds.APIKey())
	}
	return a.client.Do(ctx, req)
}

// Parse calls the script's parse(command, body) function and validates every
// returned row against the canonical data spec.
func (a *Adapter) Parse(command string, spec *schema.DataSpec, raw []byte) ([]*schema.Record, error) {
	L := a.state()
	defer a.release(L)

	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("parse"),
		NRet:    1,
		Protect: true,
	}, lua.LString(command), lua.LString(raw)); err != nil {
		return nil, &schema.SchemaValidationError{
			Schema: spec.Name, Provider: a.name,
			Field: "(payload)", Expected: "parseable body", Got: err.Error(),
		}
	}
	rows, ok := L.Get(-1).(*lua.LTable)
	L.Pop(1)
	if !ok {
		return nil, &schema.SchemaValidationError{
			Schema: spec.Name, Provider: a.name,
			Field: "(payload)", Expected: "array of rows", Got: "non-table return",
		}
	}

	var records []*schema.Record
	var parseErr error
	rows.ForEach(func(_, v lua.LValue) {
		if parseErr != nil {
			return
		}
		rowTbl, ok := v.(*lua.LTable)
		if !ok {
			parseErr = &schema.SchemaValidationError{
				Schema: spec.Name, Provider: a.name,
				Field: "(row)", Expected: "object", Got: v.Type().String(),
			}
			return
		}
		row := make(map[string]any)
		rowTbl.ForEach(func(k, rv lua.LValue) { row[k.String()] = luaToGo(rv) })
		rec, err := schema.ParseRecord(spec, a.name, row)
		if err != nil {
			parseErr = err
			return
		}
		records = append(records, rec)
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return records, nil
}

// jsonDecode is the host-side json_decode(s) function exposed to scripts.
// Returns the decoded value, or nil plus an error message.
func jsonDecode(L *lua.LState) int {
	raw := L.CheckString(1)
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(goToLua(L, v))
	return 1
}

// goToLua converts a decoded JSON value into its Lua equivalent.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch gv := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(gv)
	case float64:
		return lua.LNumber(gv)
	case string:
		return lua.LString(gv)
	case []any:
		tbl := L.NewTable()
		for _, item := range gv {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range gv {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}

// luaToGo converts scalar Lua values into their JSON-equivalent Go types.
func luaToGo(v lua.LValue) any {
	switch lv := v.(type) {
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LTable:
		m := make(map[string]any)
		lv.ForEach(func(k, tv lua.LValue) { m[k.String()] = luaToGo(tv) })
		return m
	default:
		return nil
	}
}
