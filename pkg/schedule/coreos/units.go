package coreos

import "text/template"

// Unit bodies use [[ ]] as template delimiters. The {{ }} inside them are
// docker inspect format strings and must reach the remote host verbatim.

func parse(name string, body string) *template.Template {
	return template.Must(template.New(name).Delims("[[", "]]").Parse(body))
}

var containerTemplate = parse("container", `
[Unit]
Description=[[.Name]]

[Service]
ExecStartPre=/usr/bin/docker pull [[.Image]]
ExecStartPre=/bin/sh -c "docker inspect [[.Name]] >/dev/null 2>&1 && docker rm -f [[.Name]] || true"
ExecStart=/bin/sh -c "port=$(docker inspect -f '{{range $k, $v := .ContainerConfig.ExposedPorts }}{{$k}}{{end}}' [[.Image]] | cut -d/ -f1) ; docker run --name [[.Name]] [[.Memory]] [[.CPU]] -P -e PORT=$port [[.Image]] [[.Command]]"
ExecStop=/usr/bin/docker rm -f [[.Name]]
TimeoutStartSec=20m
`)

var announceTemplate = parse("announce", `
[Unit]
Description=[[.Name]] announce
BindsTo=[[.Name]].service

[Service]
EnvironmentFile=/etc/environment
ExecStartPre=/bin/sh -c "until docker inspect -f '{{range $i, $e := .HostConfig.PortBindings }}{{$p := index $e 0}}{{$p.HostPort}}{{end}}' [[.Name]] >/dev/null 2>&1; do sleep 2; done; port=$(docker inspect -f '{{range $i, $e := .HostConfig.PortBindings }}{{$p := index $e 0}}{{$p.HostPort}}{{end}}' [[.Name]]); if [ -z "$port" ]; then echo We have no port...; exit 1; fi; echo Waiting for $port/tcp...; until netstat -lnt | grep :$port >/dev/null; do sleep 1; done"
ExecStart=/bin/sh -c "port=$(docker inspect -f '{{range $i, $e := .HostConfig.PortBindings }}{{$p := index $e 0}}{{$p.HostPort}}{{end}}' [[.Name]]); echo Connected to $COREOS_PRIVATE_IPV4:$port/tcp, publishing to etcd...; while netstat -lnt | grep :$port >/dev/null; do etcdctl set /deis/services/[[.App]]/[[.Name]] $COREOS_PRIVATE_IPV4:$port --ttl 60 >/dev/null; sleep 45; done"
ExecStop=/usr/bin/etcdctl rm --recursive /deis/services/[[.App]]/[[.Name]]
TimeoutStartSec=20m

[X-Fleet]
X-ConditionMachineOf=[[.Name]].service
`)

var logTemplate = parse("log", `
[Unit]
Description=[[.Name]] log
BindsTo=[[.Name]].service

[Service]
ExecStartPre=/bin/sh -c "until docker inspect [[.Name]] >/dev/null 2>&1; do sleep 1; done"
ExecStart=/bin/sh -c "docker logs -f [[.Name]] 2>&1 | logger -p local0.info -t [[.App]][[printf "[%s.%d]" .Type .Num]] --udp --server $(etcdctl get /deis/logs/host) --port $(etcdctl get /deis/logs/port)"
TimeoutStartSec=20m

[X-Fleet]
X-ConditionMachineOf=[[.Name]].service
`)
