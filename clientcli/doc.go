// Package clientcli provides a client library for uploading files to a splice
// server in chunks.
//
// A file is split into fixed size chunks that are posted in parallel as
// multipart/form-data, each with a Content-Range header. Failed chunks are
// retried with exponential backoff. The server assembles the object once every
// chunk has arrived, in whatever order they came. The package also downloads,
// deletes and lists objects, and keeps named server profiles in a yaml file.
//
// # Basic Usage
//
//	client, err := clientcli.New(&clientcli.Config{
//		Endpoint:  "http://localhost:5708",
//		ChunkSize: 16 << 20,
//		Parallel:  8,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := client.Upload(ctx, clientcli.UploadOptions{
//		LocalPath: "./backup.tar",
//	})
//
// # Profile Configuration
//
//	configFile, err := clientcli.LoadConfigFile(clientcli.DefaultConfigPath())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	profile, err := configFile.GetProfile("production")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := clientcli.New(clientcli.ConfigFromProfile(profile))
//
// # Output Formatting
//
//	formatter := clientcli.NewFormatter(jsonOutput, quiet)
//	formatter.FormatUpload(os.Stdout, []clientcli.UploadResult{*result})
package clientcli
