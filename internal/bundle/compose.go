package bundle

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/nainovate/license-authority/internal/certs"
)

// composeFile mirrors the shape certificate.py's generate_compose_file
// emits: a services map built only from enabled docker services, plus two
// bind-mounted volumes for the license and app data directories. Field
// order here is what yaml.v3 serializes; unlike the certificate document,
// this descriptor is never signed or canonicalized.
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]composeVolume  `yaml:"volumes"`
}

type composeService struct {
	Image       string              `yaml:"image"`
	Ports       []string            `yaml:"ports"`
	Restart     string              `yaml:"restart"`
	Environment []string            `yaml:"environment"`
	Volumes     []string            `yaml:"volumes"`
	Healthcheck *composeHealthcheck `yaml:"healthcheck,omitempty"`
	DependsOn   []string            `yaml:"depends_on,omitempty"`
	Labels      map[string]string   `yaml:"labels,omitempty"`
}

type composeHealthcheck struct {
	Test     []string `yaml:"test"`
	Interval string   `yaml:"interval"`
	Timeout  string   `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

type composeVolume struct {
	Driver     string            `yaml:"driver"`
	DriverOpts map[string]string `yaml:"driver_opts"`
}

// composeVolumes returns the bind-mount volumes for the shared data/license
// directories on the Enforcer host, rooted at the enforcer's install
// directory (the certificate.py original hardcodes
// a Windows ProgramData path; generalized here to an install-root-relative
// path since the Enforcer's install directory is itself configurable,
// on-disk bundle layout).
func composeVolumes(installDir string) map[string]composeVolume {
	return map[string]composeVolume{
		"license-data": {
			Driver: "local",
			DriverOpts: map[string]string{
				"type":   "none",
				"o":      "bind",
				"device": installDir + "/license",
			},
		},
		"app-data": {
			Driver: "local",
			DriverOpts: map[string]string{
				"type":   "none",
				"o":      "bind",
				"device": installDir + "/data",
			},
		},
	}
}

// GenerateCompose builds the docker-compose.yml text for a certificate's
// enabled docker services, grounded on certificate.py's generate_compose_file.
func GenerateCompose(cert *certs.Certificate, installDir string) ([]byte, error) {
	services := make(map[string]composeService)

	for name, svc := range cert.Docker.Services {
		if !svc.Enabled {
			continue
		}

		def := composeService{
			Image:   fmt.Sprintf("%s:%s", svc.Image, svc.Tag),
			Ports:   []string{fmt.Sprintf("%d:%d", svc.HostPort, svc.ContainerPort)},
			Restart: "unless-stopped",
			Environment: []string{
				"LICENSE_PATH=/var/license",
				"DATA_PATH=/var/data",
				"SERVICE_NAME=" + name,
				"TIER=" + cert.Tier,
			},
			Volumes: []string{
				"license-data:/var/license:ro",
				"app-data:/var/data",
			},
			Labels: map[string]string{"license.service": name},
		}

		if name == "frontend" {
			def.Healthcheck = &composeHealthcheck{
				Test:     []string{"CMD", "wget", "-qO-", fmt.Sprintf("http://localhost:%d/", svc.ContainerPort)},
				Interval: "30s",
				Timeout:  "5s",
				Retries:  3,
			}
		}
		if name == "backend" {
			if _, ok := services["frontend"]; ok || cert.Docker.Services["frontend"].Enabled {
				def.DependsOn = []string{"frontend"}
			}
		}

		services[name] = def
	}

	out, err := yaml.Marshal(composeFile{Services: services, Volumes: composeVolumes(installDir)})
	if err != nil {
		return nil, fmt.Errorf("marshal compose file: %w", err)
	}
	return out, nil
}
