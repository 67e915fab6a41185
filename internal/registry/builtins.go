package registry

import "github.com/kaiho/agentloop/internal/policy"

func (r *Registry) registerBuiltins() error {
	registrations := []struct {
		name        string
		description string
		schema      func() []byte
		kind        policy.ToolKind
		fn          Func
	}{
		{
			"read_file",
			"Read a file's contents. Rejects files over 200KB, redacts credential-shaped lines, and truncates output at 4000 characters.",
			func() []byte { return readFileSchema() },
			policy.ToolKindRead,
			r.readFileTool,
		},
		{
			"list_dir",
			"List a directory's immediate entries (name and type), capped at 200 entries.",
			func() []byte { return listDirSchema() },
			policy.ToolKindRead,
			r.listDirTool,
		},
		{
			"write_file",
			"Write a file's contents atomically. Fails if the file already exists unless overwrite is set.",
			func() []byte { return writeFileSchema() },
			policy.ToolKindWrite,
			r.writeFileTool,
		},
		{
			"calculator",
			"Evaluate an arithmetic expression restricted to digits, decimal points, + - * / ( ) and whitespace.",
			func() []byte { return calculatorSchema() },
			policy.ToolKindRead,
			r.calculatorTool,
		},
		{
			"run_cmd",
			"Run one allowlisted command with a 10 second deadline and no shell interpretation.",
			func() []byte { return runCmdSchema() },
			policy.ToolKindOther,
			r.runCmdTool,
		},
	}

	for _, reg := range registrations {
		if err := r.register(reg.name, reg.description, reg.schema(), reg.kind, reg.fn); err != nil {
			return err
		}
	}
	return nil
}
