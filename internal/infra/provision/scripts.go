package provision

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// InstallSteps is the golden-image software stack: web server, interpreter,
// required extensions and the cache module. Every script is re-runnable, a
// second pass changes nothing.
func InstallSteps(webroot string) []Step {
	return []Step{
		{
			Name: "apt-update",
			Script: `export DEBIAN_FRONTEND=noninteractive
apt-get update -y`,
			Retries:    2,
			RetryDelay: 15 * time.Second,
		},
		{
			Name: "install-stack",
			Script: `export DEBIAN_FRONTEND=noninteractive
apt-get install -y nginx php-fpm php-mysql php-curl php-zip php-xml php-mbstring php-gd unzip curl`,
			Retries:    2,
			RetryDelay: 15 * time.Second,
		},
		{
			Name: "enable-opcache",
			Script: `export DEBIAN_FRONTEND=noninteractive
apt-get install -y php-opcache
phpenmod opcache`,
			Retries:    1,
			RetryDelay: 10 * time.Second,
		},
		{
			Name:   "directory-layout",
			Script: DirectoryLayoutScript(webroot),
		},
		{
			Name: "enable-services",
			Script: `systemctl enable nginx
systemctl enable --now "$(systemctl list-unit-files 'php*-fpm.service' --no-legend | awk '{print $1}' | head -n 1)"
systemctl start nginx`,
		},
	}
}

// DirectoryLayoutScript creates the fixed directory set. mkdir -p keeps it
// idempotent: a second run yields the identical set with no errors.
func DirectoryLayoutScript(webroot string) string {
	dirs := []string{
		webroot,
		webroot + "/assets",
		"/var/backups/siteforge",
		"/var/log/siteforge",
	}
	lines := make([]string, 0, len(dirs)+1)
	for _, dir := range dirs {
		lines = append(lines, fmt.Sprintf("mkdir -p %s", dir))
	}
	lines = append(lines, fmt.Sprintf("chown -R www-data:www-data %s", webroot))
	return strings.Join(lines, "\n")
}

// SeedFiles is the fixed name to content mapping pushed into a fresh image so
// a just-provisioned server answers before any bundle is deployed.
func SeedFiles(webroot string) map[string]string {
	return map[string]string{
		webroot + "/index.html": `<!doctype html>
<html>
<head><title>Coming soon</title></head>
<body><p>This site is being prepared.</p></body>
</html>
`,
		webroot + "/health.php": `<?php
header('Content-Type: application/json');
echo json_encode(['status' => 'ok', 'php' => PHP_VERSION]);
`,
	}
}

// PushFileScript writes one seed file via a quoted heredoc, creating parent
// directories first.
func PushFileScript(path, content string) string {
	dir := path[:strings.LastIndex(path, "/")]
	return fmt.Sprintf(`mkdir -p %s
cat > %s <<'SEEDEOF'
%sSEEDEOF
chown www-data:www-data %s`, dir, path, content, path)
}

// SeedSteps pushes the seed files in a stable order.
func SeedSteps(webroot string) []Step {
	files := SeedFiles(webroot)
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	steps := make([]Step, 0, len(paths))
	for _, path := range paths {
		name := path[strings.LastIndex(path, "/")+1:]
		steps = append(steps, Step{
			Name:   "seed-" + name,
			Script: PushFileScript(path, files[path]),
		})
	}
	return steps
}

// VerifyScript checks the baked stack end to end; its combined output is
// captured into the bake record.
func VerifyScript(webroot string) string {
	return fmt.Sprintf(`set -e
nginx -t
php -v
test -f %s/index.html
test -f %s/health.php
curl -fsS -o /dev/null http://127.0.0.1/
echo VERIFY_OK`, webroot, webroot)
}

// CleanupScript strips the disposable machine before snapshotting: package
// cache, logs, shell history, and re-arms cloud-init so clones run first-boot
// again.
const CleanupScript = `export DEBIAN_FRONTEND=noninteractive
apt-get clean
rm -rf /var/lib/apt/lists/*
find /var/log -type f -exec truncate -s 0 {} \;
rm -f /root/.bash_history
history -c || true
cloud-init clean --logs || true
rm -f /etc/ssh/ssh_host_*`

// DeployScript clears the webroot, fetches the bundle, extracts it and fixes
// ownership. wrappedDir, when set, is the single top-level directory the
// archive wraps everything in; its contents are lifted to the webroot.
func DeployScript(bundleURL, webroot, wrappedDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `set -e
rm -rf %[1]s
mkdir -p %[1]s
curl -fsSL -o /tmp/site-bundle.zip %[2]q
unzip -o -q /tmp/site-bundle.zip -d %[1]s
rm -f /tmp/site-bundle.zip
`, webroot, bundleURL)
	if wrappedDir != "" {
		fmt.Fprintf(&b, `mv %[1]s/%[2]s/* %[1]s/ 2>/dev/null || true
mv %[1]s/%[2]s/.[!.]* %[1]s/ 2>/dev/null || true
rmdir %[1]s/%[2]s
`, webroot, wrappedDir)
	}
	fmt.Fprintf(&b, `chown -R www-data:www-data %[1]s
find %[1]s -type d -exec chmod 755 {} \;
find %[1]s -type f -exec chmod 644 {} \;
ls %[1]s/index.html %[1]s/index.php 2>/dev/null | head -n 1`, webroot)
	return b.String()
}
