package netpeer

import (
	"bytes"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/dashaylan/bsp/config"
)

// StartRemotes is the coordinator-side half of bootstrap: it ships the
// already-built binary at execPath and a per-peer config.json to every
// RemotePeer over SSH/SCP and launches it, the same sequence ipc.go's
// StartNodes runs (kill anything still bound to the port, recreate a scratch
// dir, scp the binary and config over, chmod it executable, run it
// detached). It returns once every remote has accepted the connection
// attempt; it does not wait for the job to finish.
func StartRemotes(execPath string, remotes []config.RemotePeer, peers []config.Peer) error {
	for i, remote := range remotes {
		peerTopo := config.Topology{
			IsCoordinator: false,
			Coordinator:   peers[0].Address,
			Peers:         peers,
		}
		confPath := fmt.Sprintf("/tmp/bsp-remote-%d.json", i)
		if err := config.Save(confPath, peerTopo); err != nil {
			return fmt.Errorf("netpeer: writing config for %s: %w", remote.Address, err)
		}
		if err := startRemote(execPath, confPath, remote); err != nil {
			return fmt.Errorf("netpeer: starting %s: %w", remote.Address, err)
		}
	}
	return nil
}

func startRemote(execPath, confPath string, remote config.RemotePeer) error {
	client, err := sshDial(remote)
	if err != nil {
		return fmt.Errorf("ssh connect: %w", err)
	}
	defer client.Close()

	scratch := "/tmp/bsp"
	if err := remoteRun(client, fmt.Sprintf("kill -9 $(lsof -t -i:%s) ; rm -rf %s && mkdir -p %s", remote.Port, scratch, scratch)); err != nil {
		return fmt.Errorf("prepare scratch dir: %w", err)
	}

	dest := remote.Username + "@" + remote.Address
	if err := scp(execPath, dest+":"+scratch+"/bsp-worker"); err != nil {
		return fmt.Errorf("scp binary: %w", err)
	}
	if err := scp(confPath, dest+":"+scratch+"/config.json"); err != nil {
		return fmt.Errorf("scp config: %w", err)
	}
	if err := remoteRun(client, "chmod a+x "+scratch+"/bsp-worker"); err != nil {
		return fmt.Errorf("chmod worker: %w", err)
	}

	// Launch detached: a plain session.Run would block until the worker
	// exits, which for a long-running BSP job is the entire point it must
	// not do.
	go remoteRun(client, "nohup "+scratch+"/bsp-worker -config "+scratch+"/config.json >"+scratch+"/log 2>&1 &")
	time.Sleep(500 * time.Millisecond)
	return nil
}

func sshDial(remote config.RemotePeer) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            remote.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(remote.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	return ssh.Dial("tcp", remote.Address+":22", cfg)
}

func remoteRun(client *ssh.Client, command string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm", 80, 40, modes); err != nil {
		return err
	}
	return session.Run(command)
}

// scp shells out to the system scp binary, the same approach
// StartNodes takes via sshpass rather than implementing the SCP protocol
// by hand.
func scp(src, dst string) error {
	cmd := exec.Command("scp", "-q", src, dst)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, stderr.String())
	}
	return nil
}
