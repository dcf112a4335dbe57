package image

import (
	"path"
	"strconv"
	"strings"

	"deployhook/pkg/templates"
)

const (
	StaticBaseImage     = "nginx:alpine"
	StandaloneBaseImage = "node:20-alpine"

	nginxRoot     = "/usr/share/nginx/html"
	nginxConfDest = "/etc/nginx/conf.d/default.conf"
	standaloneDir = ".next/standalone"
)

// EnvVar is one ENV instruction.
type EnvVar struct {
	Key   string
	Value string
}

// Copy is one COPY instruction. From is relative to the build context.
type Copy struct {
	From string
	To   string
}

// Healthcheck configures the HEALTHCHECK instruction.
type Healthcheck struct {
	Interval    string
	Timeout     string
	StartPeriod string
	Retries     int
	Command     string
}

// Recipe is a structured container recipe rendered by the dockerfile template.
type Recipe struct {
	BaseImage string
	WorkDir   string
	Env       []EnvVar
	Copies    []Copy
	Port      int
	Health    Healthcheck
	Cmd       []string
}

// Render produces the Dockerfile text.
func (r Recipe) Render() (string, error) {
	return templates.RenderWithGoTemplate(templates.Dockerfile, r)
}

// Paths returns every context path the recipe copies from.
func (r Recipe) Paths() []string {
	out := make([]string, 0, len(r.Copies))
	for _, c := range r.Copies {
		out = append(out, c.From)
	}
	return out
}

func rootHealthcheck(port int) Healthcheck {
	url := "http://localhost/"
	if port != 80 {
		url = "http://localhost:" + strconv.Itoa(port) + "/"
	}
	return Healthcheck{
		Interval:    "30s",
		Timeout:     "3s",
		StartPeriod: "5s",
		Retries:     3,
		Command:     "wget --quiet --tries=1 --spider " + url + " || exit 1",
	}
}

// StaticRecipe serves outputDir with nginx and the generated SPA config at nginxConf.
func StaticRecipe(outputDir, nginxConf string) Recipe {
	return Recipe{
		BaseImage: StaticBaseImage,
		Copies: []Copy{
			{From: outputDir, To: nginxRoot},
			{From: nginxConf, To: nginxConfDest},
		},
		Port:   80,
		Health: rootHealthcheck(80),
		Cmd:    []string{"nginx", "-g", "daemon off;"},
	}
}

// StandaloneRecipe runs a Next.js standalone bundle with node. Static runtime
// assets and public files are copied only when exists reports them present.
func StandaloneRecipe(outputDir string, exists func(string) bool) Recipe {
	// "apps/archive/.next/standalone" -> "apps/archive"; ".next/standalone" -> "".
	app := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(outputDir, "/"), standaloneDir), "/")

	r := Recipe{
		BaseImage: StandaloneBaseImage,
		WorkDir:   "/app",
		Env: []EnvVar{
			{"NODE_ENV", "production"},
			{"PORT", "3000"},
			{"HOSTNAME", "0.0.0.0"},
		},
		Copies: []Copy{{From: outputDir, To: "./"}},
		Port:   3000,
		Health: rootHealthcheck(3000),
		Cmd:    []string{"node", path.Join(app, "server.js")},
	}

	for _, extra := range []string{path.Join(app, ".next/static"), path.Join(app, "public")} {
		if exists(extra) {
			r.Copies = append(r.Copies, Copy{From: extra, To: "./" + extra})
		}
	}
	return r
}
