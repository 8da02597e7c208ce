// Package placeholder implements the two pure, deterministic template
// resolvers used throughout the installer and run manager (C8, §4.7):
// command-argument resolution and TOOL_API asset-path URL resolution.
// Neither function performs I/O.
package placeholder

import (
	"runtime"
	"strings"

	"github.com/openframe/agent/internal/tokencrypt"
)

// Context carries the values a single tool's placeholders resolve against.
type Context struct {
	ServerHost      string
	ToolAgentID     string
	SharedTokenPath string
	AppSupportDir   string
}

const (
	phServerURL  = "${client.serverUrl}"
	phSecret     = "${client.openframeSecret}"
	phTokenPath  = "${client.openframeTokenPath}"
	assetPrefix  = "${client.assetPath."
	assetSuffix  = "}"
)

// ResolveArg expands all placeholders in a single command-line argument.
func ResolveArg(arg string, ctx Context) string {
	arg = strings.ReplaceAll(arg, phServerURL, "https://"+ctx.ServerHost)
	arg = strings.ReplaceAll(arg, phSecret, tokencrypt.SharedKey)
	arg = strings.ReplaceAll(arg, phTokenPath, ctx.SharedTokenPath)
	arg = resolveAssetPaths(arg, ctx)
	return arg
}

// ResolveArgs expands placeholders across a full argument list, in order.
func ResolveArgs(args []string, ctx Context) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = ResolveArg(a, ctx)
	}
	return out
}

// resolveAssetPaths expands every ${client.assetPath.<name>} occurrence.
// All asset-path references are considered executable, so .exe is appended
// on Windows (§4.7).
func resolveAssetPaths(arg string, ctx Context) string {
	for {
		start := strings.Index(arg, assetPrefix)
		if start < 0 {
			return arg
		}
		rest := arg[start+len(assetPrefix):]
		end := strings.Index(rest, assetSuffix)
		if end < 0 {
			return arg
		}
		name := rest[:end]
		replacement := ctx.AppSupportDir + "/" + ctx.ToolAgentID + "/" + name
		if runtime.GOOS == "windows" {
			replacement += ".exe"
		}
		whole := assetPrefix + name + assetSuffix
		arg = arg[:start] + replacement + arg[start+len(whole):]
	}
}

// ResolveURL expands the URL-context resolver used for TOOL_API asset
// paths: only ${client.serverUrl}, with no scheme prefix (§4.7).
func ResolveURL(path string, serverHost string) string {
	return strings.ReplaceAll(path, phServerURL, serverHost)
}
