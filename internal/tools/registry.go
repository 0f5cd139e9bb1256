package tools

import (
	"net/http"

	"agentcore/internal/sandbox"
)

// NewStandardRegistry builds the Registry every agent kind shares: glob,
// grep, read, write_file, bash (sandboxed through wrapper) and web_fetch.
// approver resolves permission.Mediator prompt outcomes; pass AutoApprove
// outside an interactive session.
func NewStandardRegistry(root string, wrapper *sandbox.Wrapper, approver Approver) (*Registry, error) {
	reg := NewRegistry(approver)

	if err := RegisterFilesystemTools(reg, root); err != nil {
		return nil, err
	}
	if err := RegisterWriteFileTool(reg, root); err != nil {
		return nil, err
	}
	if err := RegisterBashTool(reg, root, wrapper); err != nil {
		return nil, err
	}
	if err := RegisterWebFetchTool(reg, &http.Client{Timeout: webFetchTimeout}); err != nil {
		return nil, err
	}

	return reg, nil
}
