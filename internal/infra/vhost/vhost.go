// Package vhost renders and activates per-domain nginx server blocks on a
// provisioned server.
package vhost

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/remote"
)

// Base images drift, so the interpreter version and socket path are detected
// on the target, never hard-coded.
const serverBlockTemplate = `server {
    listen 80;
    listen [::]:80;

    server_name {{.Domain}} www.{{.Domain}};
    root {{.Webroot}};
    index index.html index.php;

    location / {
        try_files $uri $uri/ /index.php?$args;
    }

    location ~ \.php$ {
        include snippets/fastcgi-php.conf;
        fastcgi_pass unix:{{.SocketPath}};
    }

    location ~ /\.ht {
        deny all;
    }
}
`

type ServerBlock struct {
	Domain     string
	Webroot    string
	PHPVersion string
	SocketPath string
}

// Render substitutes the detected interpreter facts into the vhost template.
func Render(block ServerBlock) (string, error) {
	tmpl, err := template.New("vhost").Parse(serverBlockTemplate)
	if err != nil {
		return "", fmt.Errorf("parsing vhost template: %w", err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, block); err != nil {
		return "", fmt.Errorf("rendering vhost for %v: %w", block.Domain, err)
	}
	return out.String(), nil
}

type Activator struct {
	exec remote.Executor
}

func NewActivator(exec remote.Executor) *Activator {
	return &Activator{exec: exec}
}

// Activate renders the server block for domain, enables it, validates the
// nginx configuration remotely and reloads the service.
func (a *Activator) Activate(ctx context.Context, host string, creds remote.Credentials, domain, webroot string) error {
	version, socket, err := a.detectInterpreter(ctx, host, creds)
	if err != nil {
		return err
	}
	slog.Info("detected interpreter", "host", host, "php", version, "socket", socket)

	rendered, err := Render(ServerBlock{
		Domain:     domain,
		Webroot:    webroot,
		PHPVersion: version,
		SocketPath: socket,
	})
	if err != nil {
		return err
	}

	install := fmt.Sprintf(`cat > /etc/nginx/sites-available/%[1]s <<'NGINXEOF'
%[2]s
NGINXEOF
ln -sf /etc/nginx/sites-available/%[1]s /etc/nginx/sites-enabled/%[1]s
rm -f /etc/nginx/sites-enabled/default`, domain, rendered)
	result, err := a.exec.Exec(ctx, host, creds, install, time.Minute)
	if err != nil {
		return errs.TransientError{Err: fmt.Errorf("writing vhost for %v: %w", domain, err)}
	}
	if result.ExitCode != 0 {
		return errs.PermanentError{Err: fmt.Errorf("writing vhost for %v failed: %v", domain, result.Stderr)}
	}

	result, err = a.exec.Exec(ctx, host, creds, "nginx -t", time.Minute)
	if err != nil {
		return errs.TransientError{Err: fmt.Errorf("validating nginx config: %w", err)}
	}
	if result.ExitCode != 0 {
		return errs.PermanentError{Err: fmt.Errorf("nginx rejected the rendered vhost: %v", result.Stderr)}
	}

	result, err = a.exec.Exec(ctx, host, creds, "systemctl reload nginx", time.Minute)
	if err != nil {
		return errs.TransientError{Err: fmt.Errorf("reloading nginx: %w", err)}
	}
	if result.ExitCode != 0 {
		return errs.PermanentError{Err: fmt.Errorf("nginx reload failed: %v", result.Stderr)}
	}
	return nil
}

// detectInterpreter asks the server for its installed PHP minor version and
// the matching FPM socket.
func (a *Activator) detectInterpreter(ctx context.Context, host string, creds remote.Credentials) (version, socket string, err error) {
	result, err := a.exec.Exec(ctx, host, creds,
		`php -r 'echo PHP_MAJOR_VERSION.".".PHP_MINOR_VERSION;'`, 30*time.Second)
	if err != nil {
		return "", "", errs.TransientError{Err: fmt.Errorf("detecting php version: %w", err)}
	}
	if result.ExitCode != 0 {
		return "", "", errs.PermanentError{Err: fmt.Errorf("php is not runnable on %v: %v", host, result.Stderr)}
	}
	version = strings.TrimSpace(result.Stdout)

	result, err = a.exec.Exec(ctx, host, creds,
		fmt.Sprintf("ls /run/php/php%s-fpm.sock 2>/dev/null || ls /run/php/*.sock | head -n 1", version), 30*time.Second)
	if err != nil {
		return "", "", errs.TransientError{Err: fmt.Errorf("detecting php-fpm socket: %w", err)}
	}
	socket = strings.TrimSpace(result.Stdout)
	if result.ExitCode != 0 || socket == "" {
		return "", "", errs.PermanentError{Err: fmt.Errorf("no php-fpm socket found on %v: %v", host, result.Stderr)}
	}
	return version, socket, nil
}
