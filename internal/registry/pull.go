package registry

import (
	"fmt"
	"net/url"
	"strings"
)

func PullCommand(registryHost, image, reference string) string {
	return fmt.Sprintf("docker pull %s", PullReference(registryHost, image, reference))
}

// PullReference builds host/image:tag, or host/image@digest when reference is a digest.
func PullReference(registryHost, image, reference string) string {
	registryHost = normalizeRegistryHost(registryHost)
	image = strings.Trim(image, " /")
	reference = strings.TrimSpace(reference)
	if reference == "" {
		reference = "latest"
	}

	separator := ":"
	if strings.Contains(reference, ":") {
		separator = "@"
	}
	if registryHost == "" {
		return image + separator + reference
	}
	return registryHost + "/" + image + separator + reference
}

func normalizeRegistryHost(registryHost string) string {
	registryHost = strings.TrimSpace(registryHost)
	if registryHost == "" {
		return ""
	}
	if parsed, err := url.Parse(registryHost); err == nil && parsed.Host != "" {
		registryHost = parsed.Host
	}
	registryHost = strings.Trim(registryHost, "/")
	if slash := strings.Index(registryHost, "/"); slash >= 0 {
		registryHost = registryHost[:slash]
	}
	return registryHost
}
