package sandbox

import "testing"

func TestEvaluatePolicyBlocksCriticalSubprocess(t *testing.T) {
	params := &ExecuteParams{Language: "python", Code: "import subprocess\nsubprocess.run(['ls'])"}
	verdict := EvaluatePolicy(params)
	if !verdict.Blocked {
		t.Fatalf("expected subprocess import to be blocked")
	}
	if len(verdict.Findings) != 1 || verdict.Findings[0].Severity != PolicySeverityCritical {
		t.Fatalf("unexpected findings: %+v", verdict.Findings)
	}
}

func TestEvaluatePolicyBlocksBareOSImport(t *testing.T) {
	params := &ExecuteParams{Language: "python", Code: "import os"}
	verdict := EvaluatePolicy(params)
	if !verdict.Blocked {
		t.Fatalf("expected bare 'import os' to be blocked")
	}
	if len(verdict.Findings) != 1 || verdict.Findings[0].Severity != PolicySeverityCritical {
		t.Fatalf("unexpected findings: %+v", verdict.Findings)
	}
}

func TestEvaluatePolicyFlagsHighWithoutBlocking(t *testing.T) {
	params := &ExecuteParams{Language: "python", Code: "import socket\nsocket.socket()"}
	verdict := EvaluatePolicy(params)
	if verdict.Blocked {
		t.Fatalf("expected high-severity finding to not block admission")
	}
	if len(verdict.Findings) != 1 || verdict.Findings[0].Severity != PolicySeverityHigh {
		t.Fatalf("unexpected findings: %+v", verdict.Findings)
	}
}

func TestEvaluatePolicyScopesPatternsByLanguage(t *testing.T) {
	params := &ExecuteParams{Language: "go", Code: "import subprocess"}
	verdict := EvaluatePolicy(params)
	if verdict.HasFindings() {
		t.Fatalf("python-scoped pattern should not apply to go code, got %+v", verdict.Findings)
	}
}

func TestEvaluatePolicyAllowsCleanCode(t *testing.T) {
	params := &ExecuteParams{Language: "python", Code: "print('hello world')"}
	verdict := EvaluatePolicy(params)
	if verdict.HasFindings() || verdict.Blocked {
		t.Fatalf("expected clean code to produce no findings, got %+v", verdict)
	}
}

func TestEvaluatePolicyBlocksForkBomb(t *testing.T) {
	params := &ExecuteParams{Language: "bash", Code: ":(){ :|:& };:"}
	verdict := EvaluatePolicy(params)
	if !verdict.Blocked {
		t.Fatalf("expected fork bomb pattern to block admission")
	}
}
