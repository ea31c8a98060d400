package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NeoRed-domo/qualys2human/internal/db"
	"github.com/NeoRed-domo/qualys2human/internal/testutil"
)

const sampleExport = `"Acme Scan Report","08/15/2025 at 10:22:01 (GMT)"
"Acme Corporation"
"Asset Groups","IPs","Active Hosts"
"Production",,"1"
"Total Vulnerabilities","Average Security Risk"
"1","2.0"

"IP","Total Vulnerabilities","Security Risk"
"10.0.0.1","1","2.0"

"IP","DNS","NetBIOS","OS","OS CPE","QID","Title","Vuln Status","Type","Severity","Port","Protocol","FQDN","SSL","First Detected","Last Detected","Times Detected","Date Last Fixed","CVE ID","Vendor Reference","Bugtraq ID","CVSS Base","CVSS Temporal","CVSS3.1 Base","CVSS3.1 Temporal","Threat","Impact","Solution","Results","PCI Vuln","Ticket State","Tracking Method","Category"
"10.0.0.1","web01.acme.test","","","","11111","OpenSSH Legacy Version","","","4","","","","","","","","","","","","","","","","","","","","","","","Remote Access"
`

func TestUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	exit := run([]string{"qualys2human", "frobnicate"}, ioDiscard{}, &stderr)
	if exit == 0 {
		t.Fatal("unknown command exited 0")
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestPathsCLI(t *testing.T) {
	tmp := testutil.TempDir(t)
	dbPath := filepath.Join(tmp, "cli.db")
	t.Setenv("Q2H_DATABASE_PATH", dbPath)

	watched := testutil.TempDir(t)
	exit := run([]string{"qualys2human", "paths", "add", watched, "--pattern", "*.csv"}, ioDiscard{}, ioDiscard{})
	if exit != 0 {
		t.Fatalf("paths add exit %d", exit)
	}

	var stdout bytes.Buffer
	exit = run([]string{"qualys2human", "paths", "list"}, &stdout, ioDiscard{})
	if exit != 0 {
		t.Fatalf("paths list exit %d", exit)
	}
	if !strings.Contains(stdout.String(), watched) {
		t.Fatalf("expected watch path in output, got %q", stdout.String())
	}
}

func TestImportCLI(t *testing.T) {
	tmp := testutil.TempDir(t)
	dbPath := filepath.Join(tmp, "cli.db")
	t.Setenv("Q2H_DATABASE_PATH", dbPath)

	samplePath := testutil.WriteFile(t, tmp, "export.csv", []byte(sampleExport))

	var stdout bytes.Buffer
	exit := run([]string{"qualys2human", "import", samplePath}, &stdout, ioDiscard{})
	if exit != 0 {
		t.Fatalf("import exit %d", exit)
	}
	if !strings.Contains(stdout.String(), "done") {
		t.Fatalf("expected done job in output, got %q", stdout.String())
	}

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()
	hosts, err := database.CountHosts()
	if err != nil {
		t.Fatalf("count hosts: %v", err)
	}
	if hosts != 1 {
		t.Fatalf("hosts = %d, want 1", hosts)
	}
}

// ioDiscard is a minimal io.Writer to drop output without importing io once more.
type ioDiscard struct{}

func (ioDiscard) Write(p []byte) (int, error) { return len(p), nil }
