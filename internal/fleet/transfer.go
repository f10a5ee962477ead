package fleet

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/Nordstrom/pssh/internal/model"
)

// TransferOptions configures Upload and Download.
type TransferOptions struct {
	MaxConcurrent int
	Recursive     bool
	KnownHosts    *KnownHosts
	Progress      ProgressFunc[model.TransferResult]
}

// Upload copies local to remote on every target concurrently.
func Upload(ctx context.Context, targets []model.Host, local, remote string, opts TransferOptions) Batch[model.TransferResult] {
	kh := opts.KnownHosts
	if kh == nil {
		kh = NewKnownHosts("")
	}
	work := func(taskCtx context.Context, h model.Host) model.TransferResult {
		return uploadToHost(taskCtx, h, local, remote, opts.Recursive, kh)
	}
	return runParallel(ctx, targets, opts.MaxConcurrent, work, transferFailed, false, opts.Progress)
}

// Download copies remote from every target into localDir/<host>/<basename(remote)>.
func Download(ctx context.Context, targets []model.Host, remote, localDir string, opts TransferOptions) Batch[model.TransferResult] {
	kh := opts.KnownHosts
	if kh == nil {
		kh = NewKnownHosts("")
	}
	work := func(taskCtx context.Context, h model.Host) model.TransferResult {
		return downloadFromHost(taskCtx, h, remote, localDir, opts.Recursive, kh)
	}
	return runParallel(ctx, targets, opts.MaxConcurrent, work, transferFailed, false, opts.Progress)
}

func transferFailed(r model.TransferResult) bool {
	return r.Status != model.StatusSuccess
}

func uploadToHost(ctx context.Context, h model.Host, local, remote string, recursive bool, kh *KnownHosts) model.TransferResult {
	result := model.TransferResult{
		Result:     model.Result{Host: h.DisplayName(), Status: model.StatusRunning, StartTime: time.Now()},
		Direction:  model.DirectionUpload,
		LocalPath:  local,
		RemotePath: remote,
	}

	if err := ctx.Err(); err != nil {
		return finishTransfer(result, model.StatusCancelled, "cancelled before start")
	}

	client, sftpClient, err := dialSFTP(h, kh)
	if err != nil {
		return finishTransfer(result, classifyTransportError(err), err.Error())
	}
	defer client.Close()
	defer sftpClient.Close()

	info, err := os.Stat(local)
	if err != nil {
		return finishTransfer(result, model.StatusError, err.Error())
	}

	if info.IsDir() {
		if !recursive {
			return finishTransfer(result, model.StatusError, "local path is a directory; recursive transfer not requested")
		}
		n, err := uploadDir(sftpClient, local, remote)
		if err != nil {
			return finishTransfer(result, model.StatusError, err.Error())
		}
		result.TransferredBytes = n
		return finishTransfer(result, model.StatusSuccess, "")
	}

	n, err := uploadFile(sftpClient, local, remote, info)
	if err != nil {
		return finishTransfer(result, model.StatusError, err.Error())
	}
	result.TransferredBytes = n
	return finishTransfer(result, model.StatusSuccess, "")
}

func downloadFromHost(ctx context.Context, h model.Host, remote, localDir string, recursive bool, kh *KnownHosts) model.TransferResult {
	hostLocalDir := filepath.Join(localDir, h.DisplayName())
	localPath := filepath.Join(hostLocalDir, filepath.Base(remote))

	result := model.TransferResult{
		Result:     model.Result{Host: h.DisplayName(), Status: model.StatusRunning, StartTime: time.Now()},
		Direction:  model.DirectionDownload,
		LocalPath:  localPath,
		RemotePath: remote,
	}

	if err := ctx.Err(); err != nil {
		return finishTransfer(result, model.StatusCancelled, "cancelled before start")
	}

	if err := os.MkdirAll(hostLocalDir, 0o755); err != nil {
		return finishTransfer(result, model.StatusError, err.Error())
	}

	client, sftpClient, err := dialSFTP(h, kh)
	if err != nil {
		return finishTransfer(result, classifyTransportError(err), err.Error())
	}
	defer client.Close()
	defer sftpClient.Close()

	info, err := sftpClient.Stat(remote)
	if err != nil {
		return finishTransfer(result, model.StatusError, err.Error())
	}

	if info.IsDir() {
		if !recursive {
			return finishTransfer(result, model.StatusError, "remote path is a directory; recursive transfer not requested")
		}
		n, err := downloadDir(sftpClient, remote, localPath)
		if err != nil {
			return finishTransfer(result, model.StatusError, err.Error())
		}
		result.TransferredBytes = n
		return finishTransfer(result, model.StatusSuccess, "")
	}

	n, err := downloadFile(sftpClient, remote, localPath, info)
	if err != nil {
		return finishTransfer(result, model.StatusError, err.Error())
	}
	result.TransferredBytes = n
	return finishTransfer(result, model.StatusSuccess, "")
}

func finishTransfer(result model.TransferResult, status model.Status, errMsg string) model.TransferResult {
	result.Status = status
	result.Error = errMsg
	result.EndTime = time.Now()
	return result
}

func dialSFTP(h model.Host, kh *KnownHosts) (*ssh.Client, *sftp.Client, error) {
	client, err := dialHost(h, kh.Callback())
	if err != nil {
		return nil, nil, err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("sftp client: %w", err)
	}
	return client, sftpClient, nil
}

func classifyTransportError(err error) model.Status {
	if isAuthError(err) || isHostKeyMismatch(err) {
		return model.StatusAuthFailed
	}
	return model.StatusError
}

func uploadFile(client *sftp.Client, local, remote string, info os.FileInfo) (int64, error) {
	src, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if err := client.MkdirAll(filepath.Dir(remote)); err != nil {
		return 0, err
	}

	dst, err := client.Create(remote)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, err
	}
	_ = client.Chmod(remote, info.Mode())
	return n, nil
}

func uploadDir(client *sftp.Client, localRoot, remoteRoot string) (int64, error) {
	var total int64
	err := filepath.Walk(localRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localRoot, path)
		if err != nil {
			return err
		}
		remotePath := filepath.ToSlash(filepath.Join(remoteRoot, rel))

		if info.IsDir() {
			return client.MkdirAll(remotePath)
		}
		n, err := uploadFile(client, path, remotePath, info)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}

func downloadFile(client *sftp.Client, remote, local string, info os.FileInfo) (int64, error) {
	src, err := client.Open(remote)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return 0, err
	}
	dst, err := os.Create(local)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, err
	}
	_ = os.Chmod(local, info.Mode())
	return n, nil
}

func downloadDir(client *sftp.Client, remoteRoot, localRoot string) (int64, error) {
	var total int64
	walker := client.Walk(remoteRoot)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return total, err
		}
		rel, err := filepath.Rel(remoteRoot, walker.Path())
		if err != nil {
			return total, err
		}
		localPath := filepath.Join(localRoot, rel)
		info := walker.Stat()

		if info.IsDir() {
			if err := os.MkdirAll(localPath, 0o755); err != nil {
				return total, err
			}
			continue
		}
		n, err := downloadFile(client, walker.Path(), localPath, info)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
