//go:build windows

package toolrun

import (
	"context"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/openframe/agent/pkg/openframe"
)

var (
	modwtsapi32                      = windows.NewLazySystemDLL("wtsapi32.dll")
	procWTSQueryUserToken            = modwtsapi32.NewProc("WTSQueryUserToken")
	modkernel32                      = windows.NewLazySystemDLL("kernel32.dll")
	procWTSGetActiveConsoleSessionId = modkernel32.NewProc("WTSGetActiveConsoleSessionId")
)

const (
	createUnicodeEnvironment = 0x00000400
	createNoWindow           = 0x08000000
	noActiveConsoleSession   = 0xFFFFFFFF
)

// activeConsoleSessionID returns the Terminal Services session ID
// attached to the physical console — the session a CONSOLE-bound tool
// must run in (§4.6 step 4). WTSGetActiveConsoleSessionId lives in
// kernel32.dll despite the WTS prefix, so it's resolved via a lazy DLL
// handle rather than a generated x/sys/windows wrapper.
func activeConsoleSessionID() uint32 {
	ret, _, _ := procWTSGetActiveConsoleSessionId.Call()
	return uint32(ret)
}

// consoleUserToken obtains the console session's logged-on user token via
// WTSQueryUserToken (wtsapi32.dll, also not wrapped by x/sys/windows) and
// duplicates it into a primary token CreateProcessAsUser accepts.
func consoleUserToken(sessionID uint32) (windows.Token, error) {
	var queried windows.Token
	ret, _, callErr := procWTSQueryUserToken.Call(uintptr(sessionID), uintptr(unsafe.Pointer(&queried)))
	if ret == 0 {
		return 0, fmt.Errorf("WTSQueryUserToken: %w", callErr)
	}
	defer queried.Close()

	var primary windows.Token
	if err := windows.DuplicateTokenEx(queried, 0, nil, windows.SecurityImpersonation, windows.TokenPrimary, &primary); err != nil {
		return 0, fmt.Errorf("DuplicateTokenEx: %w", err)
	}
	return primary, nil
}

// spawnConsoleSession obtains the active console session's user token and
// launches agentPath under it via CreateProcessAsUser, detached and with
// no window (§4.6 step 4), then blocks until the process exits or ctx is
// cancelled.
func (m *Manager) spawnConsoleSession(ctx context.Context, tool openframe.InstalledTool, agentPath string, args []string) error {
	sessionID := activeConsoleSessionID()
	if sessionID == noActiveConsoleSession {
		return fmt.Errorf("toolrun: no active console session for %s", tool.ToolAgentID)
	}

	token, err := consoleUserToken(sessionID)
	if err != nil {
		return fmt.Errorf("toolrun: query console user token for %s: %w", tool.ToolAgentID, err)
	}
	defer token.Close()

	var envBlock *uint16
	if err := windows.CreateEnvironmentBlock(&envBlock, token, false); err != nil {
		return fmt.Errorf("toolrun: create environment block for %s: %w", tool.ToolAgentID, err)
	}
	defer windows.DestroyEnvironmentBlock(envBlock)

	cmdLinePtr, err := windows.UTF16PtrFromString(quoteCommandLine(agentPath, args))
	if err != nil {
		return fmt.Errorf("toolrun: encode command line for %s: %w", tool.ToolAgentID, err)
	}

	startupInfo := &windows.StartupInfo{}
	procInfo := &windows.ProcessInformation{}

	if err := windows.CreateProcessAsUser(
		token,
		nil,
		cmdLinePtr,
		nil,
		nil,
		false,
		createUnicodeEnvironment|createNoWindow,
		envBlock,
		nil,
		startupInfo,
		procInfo,
	); err != nil {
		return fmt.Errorf("toolrun: create process as user for %s: %w", tool.ToolAgentID, err)
	}
	defer windows.CloseHandle(procInfo.Thread)
	defer windows.CloseHandle(procInfo.Process)

	done := make(chan error, 1)
	go func() {
		if _, err := windows.WaitForSingleObject(procInfo.Process, windows.INFINITE); err != nil {
			done <- err
			return
		}
		var exitCode uint32
		if err := windows.GetExitCodeProcess(procInfo.Process, &exitCode); err != nil {
			done <- err
			return
		}
		if exitCode != 0 {
			done <- fmt.Errorf("process exited with code %d", exitCode)
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		_ = windows.TerminateProcess(procInfo.Process, 1)
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// quoteCommandLine joins path and args into a single Windows command line,
// quoting any argument containing whitespace or a double quote.
func quoteCommandLine(path string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(path))
	for _, a := range args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
